package collection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/cardshelf/internal/identity"
	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
	"github.com/hitoshi/cardshelf/internal/repository"
)

const tracerName = "github.com/hitoshi/cardshelf/internal/collection"

// Finder はコレクション集約を1件取得する。repository.CollectionRepositoryが実装する。
type Finder interface {
	FindByID(ctx context.Context, id model.CollectionID) (*model.Collection, error)
}

// CuratorCollectionsPage はキュレーターが作成したコレクションの1ページ。
type CuratorCollectionsPage struct {
	Curator     identity.Profile
	Collections query.Result[repository.CollectionView]
}

// CollectionPage はコレクションのヘッダーと、含まれるカードの1ページ。
type CollectionPage struct {
	repository.CollectionView
	Author        identity.Profile
	Collaborators []identity.Profile
	Cards         query.Result[repository.URLCardView]
}

// CollectionItem はコレクション一覧の1行。
type CollectionItem struct {
	repository.CollectionView
	Author identity.Profile
}

// QueryService はコレクションの読み取りを行うサービス層。
type QueryService struct {
	collections repository.CollectionQueryRepository
	cards       repository.CardQueryRepository
	finder      Finder
	resolver    identity.Resolver
	profiles    identity.ProfileProvider
	metrics     metrics.MetricsCollector
	tracer      trace.Tracer
}

// QueryOption はQueryServiceの任意設定。
type QueryOption func(*QueryService)

// WithQueryMetrics はクエリのレイテンシの記録先を設定する。
func WithQueryMetrics(m metrics.MetricsCollector) QueryOption {
	return func(s *QueryService) { s.metrics = m }
}

// NewQueryService はQueryServiceを生成する。profilesがnilの場合はIDのみのプロフィールを使う。
func NewQueryService(
	collections repository.CollectionQueryRepository,
	cards repository.CardQueryRepository,
	finder Finder,
	resolver identity.Resolver,
	profiles identity.ProfileProvider,
	opts ...QueryOption,
) *QueryService {
	if profiles == nil {
		profiles = identity.StaticProfileProvider{}
	}
	s := &QueryService{
		collections: collections,
		cards:       cards,
		finder:      finder,
		resolver:    resolver,
		profiles:    profiles,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCollectionsOfCurator はハンドルまたはDIDで指定したキュレーターのコレクションを返す。
// opts.SearchTextを指定すると名前・説明の部分一致で絞り込む。
func (s *QueryService) GetCollectionsOfCurator(ctx context.Context, identifier string, opts query.CollectionOptions) (page *CuratorCollectionsPage, err error) {
	ctx, finish := s.start(ctx, "collections_of_curator", attribute.String("curator.identifier", identifier))
	defer func() { finish(err) }()

	curatorID, err := s.resolver.ResolveToCanonicalID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return nil, err
	}
	result, err := s.collections.FindByCreator(ctx, curatorID, opts)
	if err != nil {
		return nil, model.AsUnexpected("コレクション一覧の取得", err)
	}
	return &CuratorCollectionsPage{
		Curator:     s.profiles.GetProfile(ctx, curatorID),
		Collections: result,
	}, nil
}

// GetCollectionPage はコレクションのヘッダー（作成者・共同編集者のプロフィール付き）と、カードの1ページを返す。
// コレクションが存在しない場合はNotFoundErrorを返す。
func (s *QueryService) GetCollectionPage(ctx context.Context, id model.CollectionID, opts query.CardOptions) (page *CollectionPage, err error) {
	ctx, finish := s.start(ctx, "collection_page", attribute.String("collection.id", id.String()))
	defer func() { finish(err) }()

	opts, err = opts.Normalize()
	if err != nil {
		return nil, err
	}
	collection, err := s.finder.FindByID(ctx, id)
	if err != nil {
		return nil, model.AsUnexpected("コレクションの取得", err)
	}
	if collection == nil {
		return nil, model.NewCollectionNotFoundError(id.String())
	}
	cards, err := s.cards.GetCardsInCollection(ctx, id, opts)
	if err != nil {
		return nil, model.AsUnexpected("コレクション内カードの取得", err)
	}

	collaborators := collection.CollaboratorIDs()
	profiles := identity.FetchProfiles(ctx, s.profiles, append([]model.CuratorID{collection.AuthorID()}, collaborators...))

	page = &CollectionPage{
		CollectionView: viewOf(collection),
		Author:         profiles[collection.AuthorID().String()],
		Collaborators:  make([]identity.Profile, 0, len(collaborators)),
		Cards:          cards,
	}
	for _, c := range collaborators {
		page.Collaborators = append(page.Collaborators, profiles[c.String()])
	}
	return page, nil
}

// GetCollectionsContainingCard はキュレーターが作成し、カードを含むコレクションを名前順で返す。
func (s *QueryService) GetCollectionsContainingCard(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) (views []repository.CollectionView, err error) {
	ctx, finish := s.start(ctx, "collections_containing_card", attribute.String("card.id", cardID.String()))
	defer func() { finish(err) }()

	views, err = s.collections.GetCollectionsContainingCardForUser(ctx, cardID, curatorID)
	if err != nil {
		return nil, model.AsUnexpected("カードを含むコレクションの取得", err)
	}
	return views, nil
}

// GetCollectionsForURL はURLのカードを含むコレクションを重複なく、作成者のプロフィール付きで返す。
func (s *QueryService) GetCollectionsForURL(ctx context.Context, rawURL string, opts query.CollectionOptions) (result query.Result[CollectionItem], err error) {
	ctx, finish := s.start(ctx, "collections_for_url", attribute.String("url", rawURL))
	defer func() { finish(err) }()

	u, err := model.NewURL(rawURL)
	if err != nil {
		return result, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return result, err
	}
	views, err := s.collections.GetCollectionsWithURL(ctx, u, opts)
	if err != nil {
		return result, model.AsUnexpected("URLを含むコレクションの取得", err)
	}

	ids := make([]model.CuratorID, 0, len(views.Items))
	for _, v := range views.Items {
		ids = append(ids, v.AuthorID)
	}
	profiles := identity.FetchProfiles(ctx, s.profiles, ids)
	return query.Map(views, func(v repository.CollectionView) CollectionItem {
		return CollectionItem{CollectionView: v, Author: profiles[v.AuthorID.String()]}
	}), nil
}

// ResolveCollectionURI はコレクションのAT-URIを内部IDに解決する。見つからない場合はnilを返す。
func (s *QueryService) ResolveCollectionURI(ctx context.Context, uri string) (id *model.CollectionID, err error) {
	ctx, finish := s.start(ctx, "resolve_collection_uri", attribute.String("uri", uri))
	defer func() { finish(err) }()

	if model.ATURICollection(uri) == "" {
		return nil, model.NewValidationError(model.ErrCodeInvalidPublishedRecord, "AT-URIの形式が不正です: "+uri)
	}
	id, err = s.collections.FindCollectionIDByURI(ctx, uri)
	if err != nil {
		return nil, model.AsUnexpected("コレクションURIの解決", err)
	}
	return id, nil
}

func (s *QueryService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "collection."+name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.metrics != nil {
			s.metrics.RecordQueryLatency(name, time.Since(begin))
		}
	}
}

// viewOf は集約から一覧用ビューを組み立てる。
func viewOf(c *model.Collection) repository.CollectionView {
	return repository.CollectionView{
		ID:          c.ID(),
		AuthorID:    c.AuthorID(),
		Name:        c.Name(),
		Description: c.Description(),
		AccessType:  c.AccessType(),
		CardCount:   c.CardCount(),
		URI:         c.PublishedRecord().URI(),
		CreatedAt:   c.CreatedAt(),
		UpdatedAt:   c.UpdatedAt(),
	}
}
