package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/cardshelf/internal/model"
)

const (
	getProfileMethod = "app.bsky.actor.getProfile"
	profileKeyPrefix = "profile:"
	// DefaultProfileTTL はプロフィールのデフォルトのキャッシュ期間。
	DefaultProfileTTL = 10 * time.Minute
	// maxProfileFetchConcurrency はプロフィールの同時取得数の上限。
	maxProfileFetchConcurrency = 8
)

// Profile はキュレーターの表示用プロフィール。
type Profile struct {
	ID          model.CuratorID `json:"-"`
	Handle      string          `json:"handle,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	AvatarURL   string          `json:"avatar,omitempty"`
}

// ProfileProvider はキュレーターのプロフィールを返す。
// 取得に失敗した場合もエラーにはせず、IDのみの最小プロフィールを返す。
type ProfileProvider interface {
	GetProfile(ctx context.Context, id model.CuratorID) Profile
}

// XRPCProfileProvider はapp.bsky.actor.getProfileを呼び出すProfileProvider。
type XRPCProfileProvider struct {
	client Querier
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewProfileProvider はXRPCProfileProviderを生成する。cacheがnilの場合はキャッシュしない。
func NewProfileProvider(client Querier, cache Cache, ttl time.Duration, logger *slog.Logger) *XRPCProfileProvider {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &XRPCProfileProvider{client: client, cache: cache, ttl: ttl, logger: logger}
}

func (p *XRPCProfileProvider) GetProfile(ctx context.Context, id model.CuratorID) Profile {
	minimal := Profile{ID: id}
	if id.IsZero() {
		return minimal
	}
	key := profileKeyPrefix + id.String()

	if p.cache != nil {
		if raw, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			var cached Profile
			if json.Unmarshal([]byte(raw), &cached) == nil {
				cached.ID = id
				return cached
			}
		}
	}

	var resp Profile
	if err := p.client.Query(ctx, getProfileMethod, url.Values{"actor": {id.String()}}, &resp); err != nil {
		p.logger.WarnContext(ctx, "プロフィールの取得に失敗しました",
			slog.String("curator_id", id.String()),
			slog.String("error", err.Error()),
		)
		return minimal
	}
	resp.ID = id

	if p.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			if err := p.cache.Set(ctx, key, string(raw), p.ttl); err != nil {
				p.logger.WarnContext(ctx, "プロフィールキャッシュの保存に失敗しました",
					slog.String("curator_id", id.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return resp
}

// StaticProfileProvider は外部を呼び出さず、常にIDのみのプロフィールを返す。
type StaticProfileProvider struct{}

func (StaticProfileProvider) GetProfile(_ context.Context, id model.CuratorID) Profile {
	return Profile{ID: id}
}

// FetchProfiles は重複を除いた複数キュレーターのプロフィールを並行して取得する。
// 結果はDID文字列をキーにしたmapで返す。
func FetchProfiles(ctx context.Context, provider ProfileProvider, ids []model.CuratorID) map[string]Profile {
	profiles := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return profiles
	}

	unique := make([]model.CuratorID, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id.String()]; ok {
			continue
		}
		seen[id.String()] = struct{}{}
		unique = append(unique, id)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProfileFetchConcurrency)
	for _, id := range unique {
		g.Go(func() error {
			profile := provider.GetProfile(gctx, id)
			mu.Lock()
			profiles[id.String()] = profile
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return profiles
}

// compile-time interface check
var (
	_ ProfileProvider = (*XRPCProfileProvider)(nil)
	_ ProfileProvider = StaticProfileProvider{}
)
