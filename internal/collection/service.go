// Package collection はコレクションの作成・編集・カード管理（コマンド）と、コレクション一覧の読み取り（クエリ）を提供する。
package collection

import (
	"context"
	"log/slog"

	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// Publisher はコレクションとカードリンクを公開し、集約に公開記録を付ける。
// provenance.Serviceが実装する。
type Publisher interface {
	CanPublish() bool
	PublishCollection(ctx context.Context, collection *model.Collection) error
	PublishCollectionLink(ctx context.Context, collection *model.Collection, cardID model.CardID, curatorID model.CuratorID) error
}

// Service はコレクションのコマンドを実行するサービス層。
type Service struct {
	uow         repository.UnitOfWork
	collections repository.CollectionRepository
	cards       repository.CardRepository
	publisher   Publisher
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithPublisher は公開に使うPublisherを設定する。
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

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	uow repository.UnitOfWork,
	collections repository.CollectionRepository,
	cards repository.CardRepository,
	opts ...Option,
) *Service {
	s := &Service{
		uow:         uow,
		collections: collections,
		cards:       cards,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCollectionInput はコレクション作成の入力。AccessTypeが空の場合はOPEN。
type CreateCollectionInput struct {
	CuratorID       model.CuratorID
	Name            string
	Description     string
	AccessType      model.AccessType
	CollaboratorIDs []model.CuratorID
}

// CreateCollection はコレクションを作成する。Publisherがあれば作成と同時に公開する。
func (s *Service) CreateCollection(ctx context.Context, in CreateCollectionInput) (id model.CollectionID, err error) {
	defer func() { s.record("create_collection", err) }()

	accessType := in.AccessType
	if accessType == "" {
		accessType = model.AccessTypeOpen
	}
	collection, err := model.NewCollection(model.CollectionParams{
		AuthorID:        in.CuratorID,
		Name:            in.Name,
		Description:     in.Description,
		AccessType:      accessType,
		CollaboratorIDs: in.CollaboratorIDs,
	})
	if err != nil {
		return model.CollectionID{}, err
	}

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		if s.canPublish() {
			if err := s.publisher.PublishCollection(ctx, collection); err != nil {
				return err
			}
		}
		return s.save(ctx, collection)
	})
	if err != nil {
		return model.CollectionID{}, err
	}

	s.logger.InfoContext(ctx, "コレクションを作成しました",
		slog.String("curator_id", in.CuratorID.String()),
		slog.String("collection_id", collection.ID().String()),
		slog.String("access_type", string(accessType)),
	)
	return collection.ID(), nil
}

// UpdateCollectionInput はコレクション編集の入力。
type UpdateCollectionInput struct {
	CollectionID model.CollectionID
	CuratorID    model.CuratorID
	Name         string
	Description  string
}

// UpdateCollection は名前と説明を変更する。作成者以外はAccessErrorになる。
func (s *Service) UpdateCollection(ctx context.Context, in UpdateCollectionInput) (err error) {
	defer func() { s.record("update_collection", err) }()

	return s.mutate(ctx, in.CollectionID, func(ctx context.Context, c *model.Collection) error {
		return c.UpdateDetails(in.Name, in.Description, in.CuratorID)
	})
}

// DeleteCollection はコレクションを削除する。作成者以外はAccessErrorになる。
// カードリンクと共同編集者はCASCADE削除され、カード自体は残る。
func (s *Service) DeleteCollection(ctx context.Context, id model.CollectionID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("delete_collection", err) }()

	return s.uow.Do(ctx, func(ctx context.Context) error {
		collection, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !collection.CanManage(curatorID) {
			return model.NewCollectionAccessError("コレクションを削除できるのは作成者のみです")
		}
		if err := s.collections.Delete(ctx, id); err != nil {
			return model.AsUnexpected("コレクションの削除", err)
		}
		return nil
	})
}

// AddCardToCollections はカードを複数のコレクションに追加する。
// カードが存在しない場合はNotFoundError、1つでも権限がない場合はAccessErrorになり、全体が取り消される。
func (s *Service) AddCardToCollections(ctx context.Context, cardID model.CardID, collectionIDs []model.CollectionID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("add_card_to_collections", err) }()

	return s.uow.Do(ctx, func(ctx context.Context) error {
		card, err := s.cards.FindByID(ctx, cardID)
		if err != nil {
			return model.AsUnexpected("カードの取得", err)
		}
		if card == nil {
			return model.NewCardNotFoundError(cardID.String())
		}

		for _, id := range collectionIDs {
			collection, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			linked := collection.HasCard(cardID)
			if err := collection.AddCard(cardID, curatorID); err != nil {
				return err
			}
			if linked {
				continue
			}
			if s.canPublish() {
				if err := s.publisher.PublishCollectionLink(ctx, collection, cardID, curatorID); err != nil {
					return err
				}
			}
			if err := s.save(ctx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveCardFromCollections はカードを複数のコレクションから取り除く。
// 権限の確認はカードが含まれているかどうかに関係なく行う。含まれていないコレクションは保存しない。
func (s *Service) RemoveCardFromCollections(ctx context.Context, cardID model.CardID, collectionIDs []model.CollectionID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("remove_card_from_collections", err) }()

	return s.uow.Do(ctx, func(ctx context.Context) error {
		for _, id := range collectionIDs {
			collection, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			linked := collection.HasCard(cardID)
			if err := collection.RemoveCard(cardID, curatorID); err != nil {
				return err
			}
			if !linked {
				continue
			}
			if err := s.save(ctx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddCollaborator は共同編集者を追加する。
func (s *Service) AddCollaborator(ctx context.Context, id model.CollectionID, collaboratorID, actorID model.CuratorID) (err error) {
	defer func() { s.record("add_collaborator", err) }()

	return s.mutate(ctx, id, func(ctx context.Context, c *model.Collection) error {
		return c.AddCollaborator(collaboratorID, actorID)
	})
}

// RemoveCollaborator は共同編集者を削除する。
func (s *Service) RemoveCollaborator(ctx context.Context, id model.CollectionID, collaboratorID, actorID model.CuratorID) (err error) {
	defer func() { s.record("remove_collaborator", err) }()

	return s.mutate(ctx, id, func(ctx context.Context, c *model.Collection) error {
		return c.RemoveCollaborator(collaboratorID, actorID)
	})
}

// ChangeAccessType はアクセス種別を変更する。
func (s *Service) ChangeAccessType(ctx context.Context, id model.CollectionID, accessType model.AccessType, actorID model.CuratorID) (err error) {
	defer func() { s.record("change_access_type", err) }()

	return s.mutate(ctx, id, func(ctx context.Context, c *model.Collection) error {
		return c.ChangeAccessType(accessType, actorID)
	})
}

// PublishCollection はコレクションと、まだ公開されていないカードリンクを公開する。作成者のみ実行できる。
// 公開済みの記録は作り直さない。
// Publisherが設定されていない場合は何もしない。
func (s *Service) PublishCollection(ctx context.Context, id model.CollectionID, actorID model.CuratorID) (err error) {
	defer func() { s.record("publish_collection", err) }()

	return s.mutate(ctx, id, func(ctx context.Context, c *model.Collection) error {
		if !c.CanManage(actorID) {
			return model.NewCollectionAccessError("コレクションを公開できるのは作成者のみです")
		}
		if !s.canPublish() {
			return nil
		}
		if c.PublishedRecord() == nil {
			if err := s.publisher.PublishCollection(ctx, c); err != nil {
				return err
			}
		}
		for _, link := range c.CardLinks() {
			if link.PublishedRecord != nil {
				continue
			}
			if err := s.publisher.PublishCollectionLink(ctx, c, link.CardID, link.AddedBy); err != nil {
				return err
			}
		}
		return nil
	})
}

// mutate はコレクションを読み込み、fnで変更して保存するまでを1つの作業単位で行う。
func (s *Service) mutate(ctx context.Context, id model.CollectionID, fn func(ctx context.Context, c *model.Collection) error) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		collection, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, collection); err != nil {
			return err
		}
		return s.save(ctx, collection)
	})
}

func (s *Service) load(ctx context.Context, id model.CollectionID) (*model.Collection, error) {
	collection, err := s.collections.FindByID(ctx, id)
	if err != nil {
		return nil, model.AsUnexpected("コレクションの取得", err)
	}
	if collection == nil {
		return nil, model.NewCollectionNotFoundError(id.String())
	}
	return collection, nil
}

func (s *Service) save(ctx context.Context, collection *model.Collection) error {
	if err := s.collections.Save(ctx, collection); err != nil {
		return model.AsUnexpected("コレクションの保存", err)
	}
	return nil
}

func (s *Service) canPublish() bool {
	return s.publisher != nil && s.publisher.CanPublish()
}

func (s *Service) record(command string, err error) {
	if s.metrics != nil {
		s.metrics.RecordCommand(command, err)
	}
}
