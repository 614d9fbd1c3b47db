package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cardshelf/internal/collection"
	"github.com/hitoshi/cardshelf/internal/middleware"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// CollectionCommandService はコレクションハンドラーが必要とする更新系サービスインターフェース。
// collection.Serviceが実装する。
type CollectionCommandService interface {
	CreateCollection(ctx context.Context, in collection.CreateCollectionInput) (model.CollectionID, error)
	UpdateCollection(ctx context.Context, in collection.UpdateCollectionInput) error
	DeleteCollection(ctx context.Context, id model.CollectionID, curatorID model.CuratorID) error
	AddCardToCollections(ctx context.Context, cardID model.CardID, collectionIDs []model.CollectionID, curatorID model.CuratorID) error
	RemoveCardFromCollections(ctx context.Context, cardID model.CardID, collectionIDs []model.CollectionID, curatorID model.CuratorID) error
	AddCollaborator(ctx context.Context, id model.CollectionID, collaboratorID, actorID model.CuratorID) error
	RemoveCollaborator(ctx context.Context, id model.CollectionID, collaboratorID, actorID model.CuratorID) error
	ChangeAccessType(ctx context.Context, id model.CollectionID, accessType model.AccessType, actorID model.CuratorID) error
	PublishCollection(ctx context.Context, id model.CollectionID, actorID model.CuratorID) error
}

// CollectionQueryService はコレクションハンドラーが必要とする読み取り系サービスインターフェース。
// collection.QueryServiceが実装する。
type CollectionQueryService interface {
	GetCollectionsOfCurator(ctx context.Context, identifier string, opts query.CollectionOptions) (*collection.CuratorCollectionsPage, error)
	GetCollectionPage(ctx context.Context, id model.CollectionID, opts query.CardOptions) (*collection.CollectionPage, error)
	GetCollectionsContainingCard(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) ([]repository.CollectionView, error)
	GetCollectionsForURL(ctx context.Context, rawURL string, opts query.CollectionOptions) (query.Result[collection.CollectionItem], error)
}

// CollectionHandler はコレクションのHTTPハンドラー。
type CollectionHandler struct {
	commands CollectionCommandService
	queries  CollectionQueryService
}

// NewCollectionHandler はCollectionHandlerを生成する。
func NewCollectionHandler(commands CollectionCommandService, queries CollectionQueryService) *CollectionHandler {
	return &CollectionHandler{commands: commands, queries: queries}
}

// --- リクエスト型 ---

type createCollectionRequest struct {
	Name            string   `json:"name" validate:"required"`
	Description     string   `json:"description"`
	AccessType      string   `json:"access_type" validate:"omitempty,oneof=OPEN CLOSED open closed"`
	CollaboratorIDs []string `json:"collaborator_ids" validate:"max=100,dive,startswith=did:"`
}

type updateCollectionRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type changeAccessRequest struct {
	AccessType string `json:"access_type" validate:"required,oneof=OPEN CLOSED open closed"`
}

type addCardRequest struct {
	CardID string `json:"card_id" validate:"required,uuid"`
}

type addCollaboratorRequest struct {
	CuratorID string `json:"curator_id" validate:"required,startswith=did:"`
}

type collectionIDResponse struct {
	ID string `json:"id"`
}

// CreateCollection はコレクションを作成する。
// POST /api/collections
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	var req createCollectionRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	in := collection.CreateCollectionInput{
		CuratorID:   curatorID,
		Name:        req.Name,
		Description: req.Description,
	}
	if req.AccessType != "" {
		accessType, err := model.ParseAccessType(req.AccessType)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		in.AccessType = accessType
	}
	for _, raw := range req.CollaboratorIDs {
		id, err := model.NewCuratorID(raw)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		in.CollaboratorIDs = append(in.CollaboratorIDs, id)
	}

	id, err := h.commands.CreateCollection(r.Context(), in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionIDResponse{ID: id.String()})
}

// UpdateCollection はコレクションの名前と説明を変更する。
// PATCH /api/collections/{id}
func (h *CollectionHandler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateCollectionRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	err := h.commands.UpdateCollection(r.Context(), collection.UpdateCollectionInput{
		CollectionID: id,
		CuratorID:    curatorID,
		Name:         req.Name,
		Description:  req.Description,
	})
	writeNoContent(w, r, err)
}

// DeleteCollection はコレクションを削除する。カード自体は残る。
// DELETE /api/collections/{id}
func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	writeNoContent(w, r, h.commands.DeleteCollection(r.Context(), id, curatorID))
}

// ChangeAccess はコレクションの公開範囲を変更する。
// PUT /api/collections/{id}/access
func (h *CollectionHandler) ChangeAccess(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req changeAccessRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	accessType, err := model.ParseAccessType(req.AccessType)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeNoContent(w, r, h.commands.ChangeAccessType(r.Context(), id, accessType, curatorID))
}

// AddCard はコレクションにカードを追加する。
// POST /api/collections/{id}/cards
func (h *CollectionHandler) AddCard(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req addCardRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	cardID, err := model.ParseCardID(req.CardID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeNoContent(w, r, h.commands.AddCardToCollections(r.Context(), cardID, []model.CollectionID{id}, curatorID))
}

// RemoveCard はコレクションからカードを外す。
// DELETE /api/collections/{id}/cards/{cardId}
func (h *CollectionHandler) RemoveCard(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	cardID, err := model.ParseCardID(chi.URLParam(r, "cardId"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeNoContent(w, r, h.commands.RemoveCardFromCollections(r.Context(), cardID, []model.CollectionID{id}, curatorID))
}

// AddCollaborator は共同編集者を追加する。
// POST /api/collections/{id}/collaborators
func (h *CollectionHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req addCollaboratorRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	collaboratorID, err := model.NewCuratorID(req.CuratorID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeNoContent(w, r, h.commands.AddCollaborator(r.Context(), id, collaboratorID, curatorID))
}

// RemoveCollaborator は共同編集者を外す。
// DELETE /api/collections/{id}/collaborators/{curatorId}
func (h *CollectionHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	collaboratorID, err := model.NewCuratorID(chi.URLParam(r, "curatorId"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeNoContent(w, r, h.commands.RemoveCollaborator(r.Context(), id, collaboratorID, curatorID))
}

// Publish はコレクションと未公開のカードリンクを公開する。
// POST /api/collections/{id}/publish
func (h *CollectionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	curatorID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	writeNoContent(w, r, h.commands.PublishCollection(r.Context(), id, curatorID))
}

// GetCollection はコレクションとカードの1ページを返す。
// GET /api/collections/{id}
func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseCollectionID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	opts, err := parseCardOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	page, err := h.queries.GetCollectionPage(r.Context(), id, opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionPageResponse(page))
}

// ListCuratorCollections はキュレーターが作成したコレクションを返す。?search= で名前と説明を絞り込む。
// GET /api/curators/{identifier}/collections
func (h *CollectionHandler) ListCuratorCollections(w http.ResponseWriter, r *http.Request) {
	opts, err := parseCollectionOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	page, err := h.queries.GetCollectionsOfCurator(r.Context(), chi.URLParam(r, "identifier"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, curatorCollectionsResponse{
		Curator:     toProfileResponse(page.Curator),
		Collections: toPage(page.Collections, toCollectionResponse),
	})
}

// ListCardCollections は呼び出し元が作成し、カードを含むコレクションを返す。
// GET /api/cards/{id}/collections
func (h *CollectionHandler) ListCardCollections(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	cardID, err := model.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	views, err := h.queries.GetCollectionsContainingCard(r.Context(), cardID, curatorID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	items := make([]collectionResponse, len(views))
	for i, v := range views {
		items[i] = toCollectionResponse(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ListCollectionsForURL はURLのカードを含むコレクションを返す。
// GET /api/urls/collections?url=
func (h *CollectionHandler) ListCollectionsForURL(w http.ResponseWriter, r *http.Request) {
	opts, err := parseCollectionOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	result, err := h.queries.GetCollectionsForURL(r.Context(), r.URL.Query().Get("url"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(result, toCollectionItemResponse))
}

// target は呼び出し元とパスのコレクションIDを取り出す。失敗時はレスポンスを書き込みfalseを返す。
func (h *CollectionHandler) target(w http.ResponseWriter, r *http.Request) (model.CuratorID, model.CollectionID, bool) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return model.CuratorID{}, model.CollectionID{}, false
	}
	id, err := model.ParseCollectionID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return model.CuratorID{}, model.CollectionID{}, false
	}
	return curatorID, id, true
}

// writeNoContent はerrがnilなら204を、そうでなければエラーレスポンスを書き込む。
func writeNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
