// Package provenance は外部プロトコルへの公開結果（公開記録）の重複排除と、
// AT-URIから内部IDへの解決を提供する。
package provenance

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// Publisher は集約を外部プロトコルに公開し、(uri, cid) を返す。
// 署名や送信の詳細は実装側が持つ。
type Publisher interface {
	PublishCard(ctx context.Context, card *model.Card, curatorID model.CuratorID) (model.PublishedRecordRef, error)
	PublishCollection(ctx context.Context, collection *model.Collection) (model.PublishedRecordRef, error)
	PublishCollectionLink(ctx context.Context, collection *model.Collection, cardID model.CardID, curatorID model.CuratorID) (model.PublishedRecordRef, error)
}

// ResolutionKind はAT-URIが指す内部エンティティの種別。
type ResolutionKind string

const (
	ResolutionCollection ResolutionKind = "collection"
	ResolutionCard       ResolutionKind = "card"
)

// Resolution はAT-URIの解決結果。
type Resolution struct {
	Kind ResolutionKind
	ID   string
}

// Service は公開記録の保存と解決を行う。
type Service struct {
	records   repository.PublishedRecordRepository
	queries   repository.CollectionQueryRepository
	publisher Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithPublisher は公開に使うPublisherを設定する。未設定の場合、公開系の操作は何もしない。
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService はServiceを生成する。
func NewService(records repository.PublishedRecordRepository, queries repository.CollectionQueryRepository, opts ...Option) *Service {
	s := &Service{
		records: records,
		queries: queries,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanPublish はPublisherが設定されているかを返す。
func (s *Service) CanPublish() bool {
	return s.publisher != nil
}

// Stamp は (uri, cid) を重複排除して保存し、正規の公開記録を返す。
// 同じ組で同時に呼ばれても、全員が同じ1件を受け取る。
func (s *Service) Stamp(ctx context.Context, ref model.PublishedRecordRef) (*model.PublishedRecord, error) {
	if ref.IsZero() {
		return nil, model.NewValidationError(model.ErrCodeInvalidPublishedRecord, "公開記録のURIが空です")
	}
	record, created, err := s.records.Upsert(ctx, ref)
	if err != nil {
		return nil, model.AsUnexpected("公開記録の保存", err)
	}
	if s.metrics != nil {
		s.metrics.RecordProvenanceStamp(created)
	}
	if !created {
		s.logger.DebugContext(ctx, "published record deduplicated", "uri", ref.URI(), "cid", ref.CID())
	}
	return record, nil
}

// PublishCard はカードをキュレーターのライブラリ分として公開し、メンバーシップに記録を付ける。
// カード作成者自身の公開の場合は元記録としても設定する。Publisher未設定の場合は何もしない。
func (s *Service) PublishCard(ctx context.Context, card *model.Card, curatorID model.CuratorID) error {
	if s.publisher == nil {
		return nil
	}
	ref, err := s.publisher.PublishCard(ctx, card, curatorID)
	if err != nil {
		return model.AsUnexpected("カードの公開", err)
	}
	record, err := s.Stamp(ctx, ref)
	if err != nil {
		return err
	}
	if err := card.MarkCardInLibraryAsPublished(curatorID, record); err != nil {
		return err
	}
	if card.IsAuthor(curatorID) && card.OriginalPublishedRecord() == nil {
		return card.MarkAsOriginallyPublished(record)
	}
	return nil
}

// PublishCollection はコレクションを公開し、記録を付ける。Publisher未設定の場合は何もしない。
func (s *Service) PublishCollection(ctx context.Context, collection *model.Collection) error {
	if s.publisher == nil {
		return nil
	}
	ref, err := s.publisher.PublishCollection(ctx, collection)
	if err != nil {
		return model.AsUnexpected("コレクションの公開", err)
	}
	record, err := s.Stamp(ctx, ref)
	if err != nil {
		return err
	}
	return collection.MarkAsPublished(record)
}

// PublishCollectionLink はコレクション内のカードリンクを公開し、記録を付ける。Publisher未設定の場合は何もしない。
func (s *Service) PublishCollectionLink(ctx context.Context, collection *model.Collection, cardID model.CardID, curatorID model.CuratorID) error {
	if s.publisher == nil {
		return nil
	}
	if !collection.HasCard(cardID) {
		return model.NewCardNotInCollectionError(cardID, collection.ID())
	}
	ref, err := s.publisher.PublishCollectionLink(ctx, collection, cardID, curatorID)
	if err != nil {
		return model.AsUnexpected("カードリンクの公開", err)
	}
	record, err := s.Stamp(ctx, ref)
	if err != nil {
		return err
	}
	return collection.MarkCardLinkAsPublished(cardID, record)
}

// Resolve はAT-URIを内部IDに解決する。該当がない場合はnilを返す。
// URIのコレクションNSIDが"collection"で終わる場合はコレクションとして、それ以外はカードとして引く。
func (s *Service) Resolve(ctx context.Context, uri string) (*Resolution, error) {
	nsid := model.ATURICollection(uri)
	if nsid == "" {
		return nil, model.NewValidationError(model.ErrCodeInvalidPublishedRecord, "AT-URIの形式が不正です: "+uri)
	}

	if strings.HasSuffix(nsid, ".collection") {
		id, err := s.queries.FindCollectionIDByURI(ctx, uri)
		if err != nil {
			return nil, model.AsUnexpected("コレクションURIの解決", err)
		}
		if id == nil {
			return nil, nil
		}
		return &Resolution{Kind: ResolutionCollection, ID: id.String()}, nil
	}

	id, err := s.queries.FindCardIDByURI(ctx, uri)
	if err != nil {
		return nil, model.AsUnexpected("カードURIの解決", err)
	}
	if id == nil {
		return nil, nil
	}
	return &Resolution{Kind: ResolutionCard, ID: id.String()}, nil
}
