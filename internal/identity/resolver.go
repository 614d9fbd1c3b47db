package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/hitoshi/cardshelf/internal/model"
)

const (
	resolveHandleMethod = "com.atproto.identity.resolveHandle"
	handleKeyPrefix     = "handle:"
	// DefaultHandleTTL はハンドル解決結果のデフォルトのキャッシュ期間。
	DefaultHandleTTL = time.Hour
)

// Resolver はハンドルまたはDIDを正規のCuratorIDに解決する。
type Resolver interface {
	ResolveToCanonicalID(ctx context.Context, identifier string) (model.CuratorID, error)
}

// HandleResolver はDIDをそのまま返し、ハンドルをXRPC経由でDIDに解決するResolver。
type HandleResolver struct {
	client Querier
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver はHandleResolverを生成する。cacheがnilの場合はキャッシュしない。
func NewResolver(client Querier, cache Cache, ttl time.Duration, logger *slog.Logger) *HandleResolver {
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HandleResolver{client: client, cache: cache, ttl: ttl, logger: logger}
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveToCanonicalID は識別子をCuratorIDに解決する。
// did: で始まる場合は形式のみ検証して返す。先頭の@は無視する。
// 存在しないハンドルはNotFoundError、形式が不正な識別子はValidationErrorを返す。
func (r *HandleResolver) ResolveToCanonicalID(ctx context.Context, identifier string) (model.CuratorID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if strings.HasPrefix(raw, "did:") {
		return model.NewCuratorID(raw)
	}

	handle, err := syntax.ParseHandle(raw)
	if err != nil {
		return model.CuratorID{}, model.NewInvalidCuratorIDError(identifier)
	}
	handle = handle.Normalize()
	key := handleKeyPrefix + handle.String()

	if r.cache != nil {
		did, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.WarnContext(ctx, "ハンドルキャッシュの取得に失敗しました",
				slog.String("handle", handle.String()),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return model.NewCuratorID(did)
		}
	}

	var resp resolveHandleResponse
	params := url.Values{"handle": {handle.String()}}
	if err := r.client.Query(ctx, resolveHandleMethod, params, &resp); err != nil {
		var xe *XRPCError
		if errors.As(err, &xe) && xe.IsClientError() {
			return model.CuratorID{}, model.NewCuratorNotFoundError(identifier)
		}
		return model.CuratorID{}, model.AsUnexpected("ハンドルの解決", err)
	}

	id, err := model.NewCuratorID(resp.DID)
	if err != nil {
		return model.CuratorID{}, model.AsUnexpected("ハンドルの解決", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, id.String(), r.ttl); err != nil {
			r.logger.WarnContext(ctx, "ハンドルキャッシュの保存に失敗しました",
				slog.String("handle", handle.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return id, nil
}

// compile-time interface check
var _ Resolver = (*HandleResolver)(nil)
