package card

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

const tracerName = "github.com/hitoshi/cardshelf/internal/card"

// NoteFinder はURLカードに紐づくNOTE/HIGHLIGHTカードを引く。repository.CardRepositoryが実装する。
type NoteFinder interface {
	FindNoteCardsByParent(ctx context.Context, parentCardID model.CardID) ([]*model.Card, error)
}

// UserCardsPage はキュレーターのライブラリにあるURLカードの1ページ。
type UserCardsPage struct {
	Curator identity.Profile
	Cards   query.Result[repository.URLCardView]
}

// LibraryMember はカードをライブラリに追加したキュレーター。
type LibraryMember struct {
	Curator identity.Profile
	AddedAt time.Time
}

// CardDetail はURLカード1件の詳細ビュー。
type CardDetail struct {
	repository.URLCardView
	Author    identity.Profile
	Libraries []LibraryMember
	// ViewerNote は閲覧者自身のメモ。閲覧者未指定またはメモがない場合はnil。
	ViewerNote *repository.NoteView
}

// LibraryItem はURLのライブラリ一覧の1行。
type LibraryItem struct {
	repository.LibraryEntry
	Curator identity.Profile
}

// NoteItem はURLのメモ一覧の1行。
type NoteItem struct {
	repository.NoteCardView
	Author identity.Profile
}

// QueryService はカードの読み取りを行うサービス層。
// 識別子の解決とプロフィールの付与を行い、件数はリポジトリが返す値をそのまま使う。
type QueryService struct {
	cards    repository.CardQueryRepository
	notes    NoteFinder
	resolver identity.Resolver
	profiles identity.ProfileProvider
	metrics  metrics.MetricsCollector
	tracer   trace.Tracer
}

// QueryOption はQueryServiceの任意設定。
type QueryOption func(*QueryService)

// WithQueryMetrics はクエリのレイテンシの記録先を設定する。
func WithQueryMetrics(m metrics.MetricsCollector) QueryOption {
	return func(s *QueryService) { s.metrics = m }
}

// NewQueryService はQueryServiceを生成する。profilesがnilの場合はIDのみのプロフィールを使う。
func NewQueryService(
	cards repository.CardQueryRepository,
	notes NoteFinder,
	resolver identity.Resolver,
	profiles identity.ProfileProvider,
	opts ...QueryOption,
) *QueryService {
	if profiles == nil {
		profiles = identity.StaticProfileProvider{}
	}
	s := &QueryService{
		cards:    cards,
		notes:    notes,
		resolver: resolver,
		profiles: profiles,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetURLCardsOfUser はハンドルまたはDIDで指定したキュレーターのURLカードを返す。
func (s *QueryService) GetURLCardsOfUser(ctx context.Context, identifier string, opts query.CardOptions) (page *UserCardsPage, err error) {
	ctx, finish := s.start(ctx, "cards_of_user", attribute.String("curator.identifier", identifier))
	defer func() { finish(err) }()

	curatorID, err := s.resolver.ResolveToCanonicalID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return nil, err
	}
	result, err := s.cards.GetURLCardsOfUser(ctx, curatorID, opts)
	if err != nil {
		return nil, model.AsUnexpected("URLカード一覧の取得", err)
	}
	return &UserCardsPage{
		Curator: s.profiles.GetProfile(ctx, curatorID),
		Cards:   result,
	}, nil
}

// GetCollectionCards はコレクション内のURLカードを、コレクション作成者のメモ付きで返す。
func (s *QueryService) GetCollectionCards(ctx context.Context, collectionID model.CollectionID, opts query.CardOptions) (result query.Result[repository.URLCardView], err error) {
	ctx, finish := s.start(ctx, "cards_in_collection", attribute.String("collection.id", collectionID.String()))
	defer func() { finish(err) }()

	opts, err = opts.Normalize()
	if err != nil {
		return result, err
	}
	result, err = s.cards.GetCardsInCollection(ctx, collectionID, opts)
	if err != nil {
		return result, model.AsUnexpected("コレクション内カードの取得", err)
	}
	return result, nil
}

// GetURLCardView はURLカード1件を、ライブラリのキュレーターと閲覧者のメモ付きで返す。
// カードが存在しない場合はNotFoundErrorを返す。viewerはnilでもよい。
func (s *QueryService) GetURLCardView(ctx context.Context, cardID model.CardID, viewer *model.CuratorID) (detail *CardDetail, err error) {
	ctx, finish := s.start(ctx, "url_card_view", attribute.String("card.id", cardID.String()))
	defer func() { finish(err) }()

	view, err := s.cards.GetURLCardView(ctx, cardID)
	if err != nil {
		return nil, model.AsUnexpected("カードの取得", err)
	}
	if view == nil {
		return nil, model.NewCardNotFoundError(cardID.String())
	}
	entries, err := s.cards.GetLibrariesForCard(ctx, cardID)
	if err != nil {
		return nil, model.AsUnexpected("ライブラリ一覧の取得", err)
	}

	ids := make([]model.CuratorID, 0, len(entries)+1)
	ids = append(ids, view.AuthorID)
	for _, e := range entries {
		ids = append(ids, e.CuratorID)
	}
	profiles := identity.FetchProfiles(ctx, s.profiles, ids)

	detail = &CardDetail{
		URLCardView: *view,
		Author:      profiles[view.AuthorID.String()],
		Libraries:   make([]LibraryMember, 0, len(entries)),
	}
	for _, e := range entries {
		detail.Libraries = append(detail.Libraries, LibraryMember{
			Curator: profiles[e.CuratorID.String()],
			AddedAt: e.AddedAt,
		})
	}

	if viewer != nil && s.notes != nil {
		notes, err := s.notes.FindNoteCardsByParent(ctx, cardID)
		if err != nil {
			return nil, model.AsUnexpected("メモの取得", err)
		}
		detail.ViewerNote = noteView(pickNote(notes, *viewer))
	}
	return detail, nil
}

// GetLibrariesForURL はURLをライブラリに持つキュレーターを、プロフィール付きで返す。
func (s *QueryService) GetLibrariesForURL(ctx context.Context, rawURL string, opts query.CardOptions) (result query.Result[LibraryItem], err error) {
	ctx, finish := s.start(ctx, "libraries_for_url", attribute.String("url", rawURL))
	defer func() { finish(err) }()

	u, err := model.NewURL(rawURL)
	if err != nil {
		return result, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return result, err
	}
	entries, err := s.cards.GetLibrariesForURL(ctx, u, opts)
	if err != nil {
		return result, model.AsUnexpected("URLのライブラリ一覧の取得", err)
	}

	ids := make([]model.CuratorID, 0, len(entries.Items))
	for _, e := range entries.Items {
		ids = append(ids, e.CuratorID)
	}
	profiles := identity.FetchProfiles(ctx, s.profiles, ids)
	return query.Map(entries, func(e repository.LibraryEntry) LibraryItem {
		return LibraryItem{LibraryEntry: e, Curator: profiles[e.CuratorID.String()]}
	}), nil
}

// GetNoteCardsForURL はURLに付けられた全キュレーターのメモを、作成者のプロフィール付きで返す。
func (s *QueryService) GetNoteCardsForURL(ctx context.Context, rawURL string, opts query.CardOptions) (result query.Result[NoteItem], err error) {
	ctx, finish := s.start(ctx, "notes_for_url", attribute.String("url", rawURL))
	defer func() { finish(err) }()

	u, err := model.NewURL(rawURL)
	if err != nil {
		return result, err
	}
	opts, err = opts.Normalize()
	if err != nil {
		return result, err
	}
	notes, err := s.cards.GetNoteCardsForURL(ctx, u, opts)
	if err != nil {
		return result, model.AsUnexpected("URLのメモ一覧の取得", err)
	}

	ids := make([]model.CuratorID, 0, len(notes.Items))
	for _, n := range notes.Items {
		ids = append(ids, n.AuthorID)
	}
	profiles := identity.FetchProfiles(ctx, s.profiles, ids)
	return query.Map(notes, func(n repository.NoteCardView) NoteItem {
		return NoteItem{NoteCardView: n, Author: profiles[n.AuthorID.String()]}
	}), nil
}

// start はクエリのスパンを開始し、終了時にエラーとレイテンシを記録する関数を返す。
func (s *QueryService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "card."+name, trace.WithAttributes(attrs...))
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

// pickNote はauthorIDが書いたカードから一覧表示と同じ規則で1件選ぶ。
// NOTEをHIGHLIGHTより優先し、同じ種別なら作成日時が古いものを選ぶ。
func pickNote(cards []*model.Card, authorID model.CuratorID) *model.Card {
	var picked *model.Card
	for _, c := range cards {
		if !c.AuthorID().Equals(authorID) {
			continue
		}
		if picked == nil {
			picked = c
			continue
		}
		cNote := c.Type() == model.CardTypeNote
		pickedNote := picked.Type() == model.CardTypeNote
		if cNote != pickedNote {
			if cNote {
				picked = c
			}
			continue
		}
		if c.CreatedAt().Before(picked.CreatedAt()) {
			picked = c
		}
	}
	return picked
}

func noteView(c *model.Card) *repository.NoteView {
	if c == nil {
		return nil
	}
	v := &repository.NoteView{
		ID:        c.ID(),
		AuthorID:  c.AuthorID(),
		CreatedAt: c.CreatedAt(),
		UpdatedAt: c.UpdatedAt(),
	}
	switch content := c.Content().(type) {
	case model.NoteContent:
		v.Text = content.Text()
	case model.HighlightContent:
		v.Text = content.Text()
	}
	return v
}
