// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/cardshelf/internal/model"
)

// DefaultCuratorHeader は上流のゲートウェイが認証済みキュレーターのDIDを渡すヘッダー名。
const DefaultCuratorHeader = "X-Curator-DID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// curatorIDContextKey はリクエストコンテキストにキュレーターIDを格納するためのキー。
var curatorIDContextKey = contextKey("curator_id")

// NewCuratorMiddleware はヘッダーからキュレーターのDIDを読み取り、コンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合は匿名のまま次に渡す。DIDとして不正な値には400を返す。
// headerが空の場合はDefaultCuratorHeaderを使う。
func NewCuratorMiddleware(header string) func(next http.Handler) http.Handler {
	if header == "" {
		header = DefaultCuratorHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			curatorID, err := model.NewCuratorID(raw)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithCuratorID(r.Context(), curatorID)))
		})
	}
}

// RequireCurator はキュレーターが特定できないリクエストに401を返すミドルウェア。
// NewCuratorMiddlewareの後に配置する。
func RequireCurator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CuratorIDFromContext(r.Context()); !ok {
			WriteCuratorRequired(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteCuratorRequired はキュレーターが特定できないことを表す401レスポンスを書き込む。
func WriteCuratorRequired(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "CURATOR_REQUIRED",
		Message:  "キュレーターが特定できません。",
		Category: model.CategoryAccess,
		Action:   "認証済みのキュレーターとしてリクエストしてください。",
	})
}

// CuratorIDFromContext はリクエストコンテキストからキュレーターIDを取得する。
func CuratorIDFromContext(ctx context.Context) (model.CuratorID, bool) {
	id, ok := ctx.Value(curatorIDContextKey).(model.CuratorID)
	if !ok || id.IsZero() {
		return model.CuratorID{}, false
	}
	return id, true
}

// ContextWithCuratorID はコンテキストにキュレーターIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCuratorID(ctx context.Context, id model.CuratorID) context.Context {
	return context.WithValue(ctx, curatorIDContextKey, id)
}
