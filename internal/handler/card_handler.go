package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cardshelf/internal/card"
	"github.com/hitoshi/cardshelf/internal/middleware"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

// CardCommandService はカードハンドラーが必要とする更新系サービスインターフェース。
// card.Serviceが実装する。
type CardCommandService interface {
	AddURLToLibrary(ctx context.Context, in card.AddURLToLibraryInput) (*card.AddURLToLibraryResult, error)
	AddCardToLibrary(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) error
	RemoveCardFromLibrary(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) error
	UpdateNoteCard(ctx context.Context, noteCardID model.CardID, curatorID model.CuratorID, text string) error
	DeleteCard(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) error
	AddHighlight(ctx context.Context, in card.AddHighlightInput) (model.CardID, error)
}

// CardQueryService はカードハンドラーが必要とする読み取り系サービスインターフェース。
// card.QueryServiceが実装する。
type CardQueryService interface {
	GetURLCardsOfUser(ctx context.Context, identifier string, opts query.CardOptions) (*card.UserCardsPage, error)
	GetURLCardView(ctx context.Context, cardID model.CardID, viewer *model.CuratorID) (*card.CardDetail, error)
	GetLibrariesForURL(ctx context.Context, rawURL string, opts query.CardOptions) (query.Result[card.LibraryItem], error)
	GetNoteCardsForURL(ctx context.Context, rawURL string, opts query.CardOptions) (query.Result[card.NoteItem], error)
}

// CardHandler はカードのHTTPハンドラー。
type CardHandler struct {
	commands CardCommandService
	queries  CardQueryService
}

// NewCardHandler はCardHandlerを生成する。
func NewCardHandler(commands CardCommandService, queries CardQueryService) *CardHandler {
	return &CardHandler{commands: commands, queries: queries}
}

// --- リクエスト型 ---

type addURLRequest struct {
	URL           string   `json:"url" validate:"required,max=2048"`
	Note          string   `json:"note"`
	CollectionIDs []string `json:"collection_ids" validate:"max=50,dive,uuid"`
}

type updateNoteRequest struct {
	Text string `json:"text" validate:"required"`
}

type addHighlightRequest struct {
	Text    string `json:"text" validate:"required"`
	Context string `json:"context"`
}

type addURLResponse struct {
	URLCardID  string `json:"url_card_id"`
	NoteCardID string `json:"note_card_id,omitempty"`
}

type cardIDResponse struct {
	ID string `json:"id"`
}

// AddURL はURLを呼び出し元のライブラリに追加する。
// POST /api/cards/url
func (h *CardHandler) AddURL(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	var req addURLRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	collectionIDs, err := parseCollectionIDs(req.CollectionIDs)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	res, err := h.commands.AddURLToLibrary(r.Context(), card.AddURLToLibraryInput{
		CuratorID:     curatorID,
		URL:           req.URL,
		Note:          req.Note,
		CollectionIDs: collectionIDs,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := addURLResponse{URLCardID: res.URLCardID.String()}
	if res.NoteCardID != nil {
		resp.NoteCardID = res.NoteCardID.String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// AddToLibrary は既存のカードを呼び出し元のライブラリに追加する。
// POST /api/cards/{id}/library
func (h *CardHandler) AddToLibrary(w http.ResponseWriter, r *http.Request) {
	h.cardCommand(w, r, h.commands.AddCardToLibrary)
}

// RemoveFromLibrary はカードを呼び出し元のライブラリから外す。
// DELETE /api/cards/{id}/library
func (h *CardHandler) RemoveFromLibrary(w http.ResponseWriter, r *http.Request) {
	h.cardCommand(w, r, h.commands.RemoveCardFromLibrary)
}

// DeleteCard はカードを削除する。作成者のみ。
// DELETE /api/cards/{id}
func (h *CardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	h.cardCommand(w, r, h.commands.DeleteCard)
}

// UpdateNote はメモカードの本文を更新する。
// PUT /api/cards/{id}/note
func (h *CardHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	noteID, err := model.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var req updateNoteRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.commands.UpdateNoteCard(r.Context(), noteID, curatorID, req.Text); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddHighlight はURLカードにハイライトを追加する。
// POST /api/cards/{id}/highlights
func (h *CardHandler) AddHighlight(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	parentID, err := model.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var req addHighlightRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	id, err := h.commands.AddHighlight(r.Context(), card.AddHighlightInput{
		CuratorID:    curatorID,
		ParentCardID: parentID,
		Text:         req.Text,
		Context:      req.Context,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cardIDResponse{ID: id.String()})
}

// GetCard はURLカードの詳細を返す。呼び出し元が分かる場合はそのメモも含める。
// GET /api/cards/{id}
func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := model.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var viewer *model.CuratorID
	if id, ok := middleware.CuratorIDFromContext(r.Context()); ok {
		viewer = &id
	}

	detail, err := h.queries.GetURLCardView(r.Context(), cardID, viewer)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDetailResponse(detail))
}

// ListCuratorCards はキュレーターのライブラリにあるURLカードを返す。
// GET /api/curators/{identifier}/cards
func (h *CardHandler) ListCuratorCards(w http.ResponseWriter, r *http.Request) {
	opts, err := parseCardOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	page, err := h.queries.GetURLCardsOfUser(r.Context(), chi.URLParam(r, "identifier"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, curatorCardsResponse{
		Curator: toProfileResponse(page.Curator),
		Cards:   toPage(page.Cards, toURLCardResponse),
	})
}

// ListLibrariesForURL はURLをライブラリに持つキュレーターを返す。
// GET /api/urls/libraries?url=
func (h *CardHandler) ListLibrariesForURL(w http.ResponseWriter, r *http.Request) {
	opts, err := parseCardOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	result, err := h.queries.GetLibrariesForURL(r.Context(), r.URL.Query().Get("url"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(result, toLibraryItemResponse))
}

// ListNotesForURL はURLに付けられたメモを返す。
// GET /api/urls/notes?url=
func (h *CardHandler) ListNotesForURL(w http.ResponseWriter, r *http.Request) {
	opts, err := parseCardOptions(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	result, err := h.queries.GetNoteCardsForURL(r.Context(), r.URL.Query().Get("url"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(result, toNoteCardResponse))
}

// cardCommand はパスのカードIDと呼び出し元に対するコマンドを実行し、成功時は204を返す。
func (h *CardHandler) cardCommand(w http.ResponseWriter, r *http.Request, fn func(context.Context, model.CardID, model.CuratorID) error) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	cardID, err := model.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := fn(r.Context(), cardID, curatorID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// requireCurator はコンテキストから呼び出し元のキュレーターを取り出す。いなければ401を書き込む。
func requireCurator(w http.ResponseWriter, r *http.Request) (model.CuratorID, bool) {
	curatorID, ok := middleware.CuratorIDFromContext(r.Context())
	if !ok {
		middleware.WriteCuratorRequired(w)
		return model.CuratorID{}, false
	}
	return curatorID, true
}

// parseCollectionIDs は文字列のコレクションIDを変換する。
func parseCollectionIDs(raw []string) ([]model.CollectionID, error) {
	ids := make([]model.CollectionID, 0, len(raw))
	for _, s := range raw {
		id, err := model.ParseCollectionID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
