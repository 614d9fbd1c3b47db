package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/cardshelf/internal/metadata"
	"github.com/hitoshi/cardshelf/internal/middleware"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/provenance"
)

// URIResolver はAT-URIを内部IDに解決する。provenance.Serviceが実装する。
type URIResolver interface {
	Resolve(ctx context.Context, uri string) (*provenance.Resolution, error)
}

// FeedImporter はフィードの記事をライブラリに取り込む。metadata.FeedImporterが実装する。
type FeedImporter interface {
	Import(ctx context.Context, in metadata.ImportInput) (*metadata.ImportResult, error)
}

type resolveResponse struct {
	URI  string `json:"uri"`
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type importFeedRequest struct {
	FeedURL       string   `json:"feed_url" validate:"required,max=2048"`
	Limit         int      `json:"limit" validate:"omitempty,min=1,max=100"`
	CollectionIDs []string `json:"collection_ids" validate:"max=50,dive,uuid"`
}

type importFeedResponse struct {
	FeedTitle string   `json:"feed_title"`
	CardIDs   []string `json:"card_ids"`
	Skipped   int      `json:"skipped"`
}

// ResolveHandler はAT-URI解決のHTTPハンドラー。
type ResolveHandler struct {
	resolver URIResolver
}

// NewResolveHandler はResolveHandlerを生成する。
func NewResolveHandler(resolver URIResolver) *ResolveHandler {
	return &ResolveHandler{resolver: resolver}
}

// Resolve はAT-URIが指すコレクションまたはカードのIDを返す。該当がなければ404。
// GET /api/resolve?uri=
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	res, err := h.resolver.Resolve(r.Context(), uri)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if res == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "RECORD_NOT_FOUND",
			Message:  "指定されたAT-URIに対応するレコードがありません。",
			Category: model.CategoryNotFound,
			Action:   "AT-URIを確認してください。",
		})
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{URI: uri, Kind: string(res.Kind), ID: res.ID})
}

// ImportHandler はフィード取り込みのHTTPハンドラー。
type ImportHandler struct {
	importer FeedImporter
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(importer FeedImporter) *ImportHandler {
	return &ImportHandler{importer: importer}
}

// ImportFeed はRSS/Atomフィードの記事を呼び出し元のライブラリに取り込む。
// POST /api/imports/feed
func (h *ImportHandler) ImportFeed(w http.ResponseWriter, r *http.Request) {
	curatorID, ok := requireCurator(w, r)
	if !ok {
		return
	}
	var req importFeedRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	collectionIDs, err := parseCollectionIDs(req.CollectionIDs)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	res, err := h.importer.Import(r.Context(), metadata.ImportInput{
		CuratorID:     curatorID,
		FeedURL:       req.FeedURL,
		Limit:         req.Limit,
		CollectionIDs: collectionIDs,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	ids := make([]string, len(res.CardIDs))
	for i, id := range res.CardIDs {
		ids[i] = id.String()
	}
	writeJSON(w, http.StatusOK, importFeedResponse{FeedTitle: res.FeedTitle, CardIDs: ids, Skipped: res.Skipped})
}
