// Package handler はREST APIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	CuratorHeader     string
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// カード
	CardService      CardCommandService
	CardQueryService CardQueryService

	// コレクション
	CollectionService      CollectionCommandService
	CollectionQueryService CollectionQueryService

	// AT-URI解決とフィード取り込み
	Resolver     URIResolver
	FeedImporter FeedImporter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Curator → Logging → RateLimit(General, Write)
//
// 更新系のルートはRequireCuratorで呼び出し元のキュレーターを必須にする。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin, deps.CuratorHeader))
	}
	r.Use(middleware.NewCuratorMiddleware(deps.CuratorHeader))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	cards := NewCardHandler(deps.CardService, deps.CardQueryService)
	collections := NewCollectionHandler(deps.CollectionService, deps.CollectionQueryService)
	resolve := NewResolveHandler(deps.Resolver)
	imports := NewImportHandler(deps.FeedImporter)

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.WriteMiddleware())
		}

		// --- 読み取り（匿名可） ---
		r.Get("/cards/{id}", cards.GetCard)
		r.Get("/curators/{identifier}/cards", cards.ListCuratorCards)
		r.Get("/curators/{identifier}/collections", collections.ListCuratorCollections)
		r.Get("/collections/{id}", collections.GetCollection)
		r.Get("/urls/libraries", cards.ListLibrariesForURL)
		r.Get("/urls/notes", cards.ListNotesForURL)
		r.Get("/urls/collections", collections.ListCollectionsForURL)
		r.Get("/resolve", resolve.Resolve)

		// --- 呼び出し元が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCurator)

			r.Get("/cards/{id}/collections", collections.ListCardCollections)

			r.Post("/cards/url", cards.AddURL)
			r.Delete("/cards/{id}", cards.DeleteCard)
			r.Post("/cards/{id}/library", cards.AddToLibrary)
			r.Delete("/cards/{id}/library", cards.RemoveFromLibrary)
			r.Put("/cards/{id}/note", cards.UpdateNote)
			r.Post("/cards/{id}/highlights", cards.AddHighlight)

			r.Post("/collections", collections.CreateCollection)
			r.Patch("/collections/{id}", collections.UpdateCollection)
			r.Delete("/collections/{id}", collections.DeleteCollection)
			r.Put("/collections/{id}/access", collections.ChangeAccess)
			r.Post("/collections/{id}/cards", collections.AddCard)
			r.Delete("/collections/{id}/cards/{cardId}", collections.RemoveCard)
			r.Post("/collections/{id}/collaborators", collections.AddCollaborator)
			r.Delete("/collections/{id}/collaborators/{curatorId}", collections.RemoveCollaborator)
			r.Post("/collections/{id}/publish", collections.Publish)

			if deps.FeedImporter != nil {
				r.Post("/imports/feed", imports.ImportFeed)
			}
		})
	})

	return r
}

// healthHandler は依存先への疎通を確認するハンドラーを返す。checkerがnilの場合は常に200。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.WarnContext(r.Context(), "ヘルスチェックに失敗しました", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
