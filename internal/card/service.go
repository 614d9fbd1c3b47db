// Package card はカードのライブラリ操作（コマンド）と、カード一覧の読み取り（クエリ）を提供する。
package card

import (
	"context"
	"log/slog"

	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// MetadataFetcher はURL先のページからメタデータを取得する。
type MetadataFetcher interface {
	Fetch(ctx context.Context, u model.URL) (model.URLMetadata, error)
}

// Publisher はカードとコレクションリンクを公開し、集約に公開記録を付ける。
// provenance.Serviceが実装する。
type Publisher interface {
	CanPublish() bool
	PublishCard(ctx context.Context, card *model.Card, curatorID model.CuratorID) error
	PublishCollectionLink(ctx context.Context, collection *model.Collection, cardID model.CardID, curatorID model.CuratorID) error
}

// TextSanitizer はユーザー入力テキストからマークアップを除去する。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Service はカードのコマンドを実行するサービス層。
// 各コマンドは読み込み、集約の変更、保存を1つの作業単位で行う。
type Service struct {
	uow         repository.UnitOfWork
	cards       repository.CardRepository
	collections repository.CollectionRepository
	publisher   Publisher
	fetcher     MetadataFetcher
	sanitizer   TextSanitizer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithPublisher は公開に使うPublisherを設定する。
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetadataFetcher はURLカード作成時のメタデータ取得を有効にする。
func WithMetadataFetcher(f MetadataFetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithSanitizer はメモ・ハイライト本文のサニタイザーを設定する。
func WithSanitizer(t TextSanitizer) Option {
	return func(s *Service) { s.sanitizer = t }
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
	cards repository.CardRepository,
	collections repository.CollectionRepository,
	opts ...Option,
) *Service {
	s := &Service{
		uow:         uow,
		cards:       cards,
		collections: collections,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddURLToLibraryInput はURLをライブラリに追加するコマンドの入力。
type AddURLToLibraryInput struct {
	CuratorID     model.CuratorID
	URL           string
	Note          string
	CollectionIDs []model.CollectionID
	// Metadata を指定した場合はURL先からの取得を行わずにこれを使う。
	Metadata *model.URLMetadata
}

// AddURLToLibraryResult はAddURLToLibraryの結果。メモを指定しなかった場合NoteCardIDはnil。
type AddURLToLibraryResult struct {
	URLCardID  model.CardID
	NoteCardID *model.CardID
}

// AddURLToLibrary はURLをキュレーターのライブラリに追加する。
// キュレーター自身の同じURLのカードがあればそれを使い、なければ新しく作成する。
// メモを指定した場合はキュレーターのメモカードを作成または更新し、
// コレクションを指定した場合は各コレクションにカードを追加する。
func (s *Service) AddURLToLibrary(ctx context.Context, in AddURLToLibraryInput) (result *AddURLToLibraryResult, err error) {
	defer func() { s.record("add_url_to_library", err) }()

	if in.CuratorID.IsZero() {
		return nil, model.NewInvalidCuratorIDError("")
	}
	u, err := model.NewURL(in.URL)
	if err != nil {
		return nil, err
	}
	noteText := s.sanitize(in.Note)

	// ネットワーク越しのメタデータ取得はトランザクションの外で行う
	existing, err := s.cards.FindUsersURLCard(ctx, in.CuratorID, u)
	if err != nil {
		return nil, model.AsUnexpected("URLカードの取得", err)
	}
	metadata := in.Metadata
	if existing == nil && metadata == nil {
		metadata = s.fetchMetadata(ctx, u)
	}

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		urlCard, err := s.cards.FindUsersURLCard(ctx, in.CuratorID, u)
		if err != nil {
			return model.AsUnexpected("URLカードの取得", err)
		}
		if urlCard == nil {
			content, err := model.NewURLContent(u, metadata)
			if err != nil {
				return err
			}
			urlCard, err = model.NewCard(model.CardParams{
				AuthorID:           in.CuratorID,
				Content:            content,
				LibraryMemberships: []model.LibraryMembership{{CuratorID: in.CuratorID}},
			})
			if err != nil {
				return err
			}
		}
		if err := s.addToLibraryAndPublish(ctx, urlCard, in.CuratorID); err != nil {
			return err
		}
		if err := s.saveCard(ctx, urlCard); err != nil {
			return err
		}
		result = &AddURLToLibraryResult{URLCardID: urlCard.ID()}

		if noteText != "" {
			noteID, err := s.upsertNote(ctx, urlCard, in.CuratorID, noteText)
			if err != nil {
				return err
			}
			result.NoteCardID = &noteID
		}

		return s.addToCollections(ctx, urlCard.ID(), in.CollectionIDs, in.CuratorID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "URLをライブラリに追加しました",
		slog.String("curator_id", in.CuratorID.String()),
		slog.String("card_id", result.URLCardID.String()),
		slog.Int("collections", len(in.CollectionIDs)),
	)
	return result, nil
}

// upsertNote はURLカードに紐づくキュレーターのメモカードを作成または更新する。
func (s *Service) upsertNote(ctx context.Context, urlCard *model.Card, curatorID model.CuratorID, text string) (model.CardID, error) {
	note, err := s.cards.FindUsersNoteCard(ctx, curatorID, urlCard.ID())
	if err != nil {
		return model.CardID{}, model.AsUnexpected("メモカードの取得", err)
	}

	if note != nil {
		title := ""
		if nc, ok := note.Content().(model.NoteContent); ok {
			title = nc.Title()
		}
		content, err := model.NewNoteContent(text, title)
		if err != nil {
			return model.CardID{}, err
		}
		if err := note.UpdateContent(content); err != nil {
			return model.CardID{}, err
		}
		if err := note.AddToLibrary(curatorID); err != nil {
			return model.CardID{}, err
		}
		return note.ID(), s.saveCard(ctx, note)
	}

	content, err := model.NewNoteContent(text, "")
	if err != nil {
		return model.CardID{}, err
	}
	parentID := urlCard.ID()
	note, err = model.NewCard(model.CardParams{
		AuthorID:           curatorID,
		Content:            content,
		URL:                urlCard.URL(),
		ParentCardID:       &parentID,
		LibraryMemberships: []model.LibraryMembership{{CuratorID: curatorID}},
	})
	if err != nil {
		return model.CardID{}, err
	}
	if err := s.addToLibraryAndPublish(ctx, note, curatorID); err != nil {
		return model.CardID{}, err
	}
	return note.ID(), s.saveCard(ctx, note)
}

// addToCollections はカードを各コレクションに追加して保存する。
// 存在しないコレクションはNotFoundError、権限のないコレクションはAccessErrorになる。
func (s *Service) addToCollections(ctx context.Context, cardID model.CardID, ids []model.CollectionID, curatorID model.CuratorID) error {
	for _, id := range ids {
		collection, err := s.collections.FindByID(ctx, id)
		if err != nil {
			return model.AsUnexpected("コレクションの取得", err)
		}
		if collection == nil {
			return model.NewCollectionNotFoundError(id.String())
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
		if err := s.collections.Save(ctx, collection); err != nil {
			return model.AsUnexpected("コレクションの保存", err)
		}
	}
	return nil
}

// AddCardToLibrary は既存のカードをキュレーターのライブラリに追加する。追加済みの場合は何もしない。
func (s *Service) AddCardToLibrary(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("add_card_to_library", err) }()

	return s.uow.Do(ctx, func(ctx context.Context) error {
		card, err := s.loadCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.IsInLibrary(curatorID) {
			return nil
		}
		if err := s.addToLibraryAndPublish(ctx, card, curatorID); err != nil {
			return err
		}
		return s.saveCard(ctx, card)
	})
}

// RemoveCardFromLibrary はカードをキュレーターのライブラリから取り除く。
// キュレーターが作成したコレクションからもカードを外す。URLカードの場合はキュレーターのメモもライブラリから外す。
func (s *Service) RemoveCardFromLibrary(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("remove_card_from_library", err) }()

	return s.uow.Do(ctx, func(ctx context.Context) error {
		card, err := s.loadCard(ctx, cardID)
		if err != nil {
			return err
		}
		if !card.IsInLibrary(curatorID) {
			return nil
		}

		collections, err := s.collections.FindByAuthorAndCard(ctx, curatorID, cardID)
		if err != nil {
			return model.AsUnexpected("コレクションの取得", err)
		}
		for _, collection := range collections {
			if err := collection.RemoveCard(cardID, curatorID); err != nil {
				return err
			}
			if err := s.collections.Save(ctx, collection); err != nil {
				return model.AsUnexpected("コレクションの保存", err)
			}
		}

		if err := card.RemoveFromLibrary(curatorID); err != nil {
			return err
		}
		if err := s.saveCard(ctx, card); err != nil {
			return err
		}

		if card.Type() != model.CardTypeURL {
			return nil
		}
		note, err := s.cards.FindUsersNoteCard(ctx, curatorID, cardID)
		if err != nil {
			return model.AsUnexpected("メモカードの取得", err)
		}
		if note == nil || !note.IsInLibrary(curatorID) {
			return nil
		}
		if err := note.RemoveFromLibrary(curatorID); err != nil {
			return err
		}
		return s.saveCard(ctx, note)
	})
}

// UpdateNoteCard はメモカードの本文を更新する。作成者以外はAccessErrorになる。
func (s *Service) UpdateNoteCard(ctx context.Context, noteCardID model.CardID, curatorID model.CuratorID, text string) (err error) {
	defer func() { s.record("update_note_card", err) }()

	text = s.sanitize(text)
	return s.uow.Do(ctx, func(ctx context.Context) error {
		card, err := s.loadCard(ctx, noteCardID)
		if err != nil {
			return err
		}
		current, ok := card.Content().(model.NoteContent)
		if !ok {
			return model.NewInvalidCardContentError("メモカードではありません")
		}
		if !card.IsAuthor(curatorID) {
			return model.NewCardAccessError("メモを編集できるのは作成者のみです")
		}
		content, err := model.NewNoteContent(text, current.Title())
		if err != nil {
			return err
		}
		if err := card.UpdateContent(content); err != nil {
			return err
		}
		return s.saveCard(ctx, card)
	})
}

// DeleteCard はカードを削除する。作成者以外はAccessErrorになる。
// カードを含む全コレクションからリンクを外してから削除する。
func (s *Service) DeleteCard(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) (err error) {
	defer func() { s.record("delete_card", err) }()

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		card, err := s.loadCard(ctx, cardID)
		if err != nil {
			return err
		}
		if !card.IsAuthor(curatorID) {
			return model.NewCardAccessError("カードを削除できるのは作成者のみです")
		}

		collections, err := s.collections.FindByCardID(ctx, cardID)
		if err != nil {
			return model.AsUnexpected("コレクションの取得", err)
		}
		for _, collection := range collections {
			// 他人のCLOSEDコレクションでも外せるよう、コレクション作成者として操作する
			if err := collection.RemoveCard(cardID, collection.AuthorID()); err != nil {
				return err
			}
			if err := s.collections.Save(ctx, collection); err != nil {
				return model.AsUnexpected("コレクションの保存", err)
			}
		}

		if err := s.cards.Delete(ctx, cardID); err != nil {
			return model.AsUnexpected("カードの削除", err)
		}
		return nil
	})
	if err == nil {
		s.logger.InfoContext(ctx, "カードを削除しました",
			slog.String("curator_id", curatorID.String()),
			slog.String("card_id", cardID.String()),
		)
	}
	return err
}

// AddHighlightInput はハイライト追加コマンドの入力。
type AddHighlightInput struct {
	CuratorID    model.CuratorID
	ParentCardID model.CardID
	Text         string
	Context      string
}

// AddHighlight はURLカードに紐づくハイライトカードを作成し、キュレーターのライブラリに追加する。
func (s *Service) AddHighlight(ctx context.Context, in AddHighlightInput) (id model.CardID, err error) {
	defer func() { s.record("add_highlight", err) }()

	err = s.uow.Do(ctx, func(ctx context.Context) error {
		parent, err := s.loadCard(ctx, in.ParentCardID)
		if err != nil {
			return err
		}
		if parent.Type() != model.CardTypeURL || parent.URL() == nil {
			return model.NewInvalidCardContentError("ハイライトはURLカードにのみ追加できます")
		}
		content, err := model.NewHighlightContent(s.sanitize(in.Text), *parent.URL(), s.sanitize(in.Context))
		if err != nil {
			return err
		}
		parentID := parent.ID()
		highlight, err := model.NewCard(model.CardParams{
			AuthorID:           in.CuratorID,
			Content:            content,
			ParentCardID:       &parentID,
			LibraryMemberships: []model.LibraryMembership{{CuratorID: in.CuratorID}},
		})
		if err != nil {
			return err
		}
		if err := s.addToLibraryAndPublish(ctx, highlight, in.CuratorID); err != nil {
			return err
		}
		if err := s.saveCard(ctx, highlight); err != nil {
			return err
		}
		id = highlight.ID()
		return nil
	})
	return id, err
}

// loadCard はカードを取得する。存在しない場合はNotFoundErrorを返す。
func (s *Service) loadCard(ctx context.Context, id model.CardID) (*model.Card, error) {
	card, err := s.cards.FindByID(ctx, id)
	if err != nil {
		return nil, model.AsUnexpected("カードの取得", err)
	}
	if card == nil {
		return nil, model.NewCardNotFoundError(id.String())
	}
	return card, nil
}

// addToLibraryAndPublish はカードをライブラリに追加し、Publisherがあればそのキュレーター分を公開する。
func (s *Service) addToLibraryAndPublish(ctx context.Context, card *model.Card, curatorID model.CuratorID) error {
	if err := card.AddToLibrary(curatorID); err != nil {
		return err
	}
	if !s.canPublish() {
		return nil
	}
	if m, ok := card.LibraryMembershipOf(curatorID); ok && m.PublishedRecord != nil {
		return nil
	}
	return s.publisher.PublishCard(ctx, card, curatorID)
}

func (s *Service) saveCard(ctx context.Context, card *model.Card) error {
	if err := s.cards.Save(ctx, card); err != nil {
		return model.AsUnexpected("カードの保存", err)
	}
	return nil
}

func (s *Service) canPublish() bool {
	return s.publisher != nil && s.publisher.CanPublish()
}

// fetchMetadata はメタデータを取得する。失敗はログに残して無視する。
func (s *Service) fetchMetadata(ctx context.Context, u model.URL) *model.URLMetadata {
	if s.fetcher == nil {
		return nil
	}
	md, err := s.fetcher.Fetch(ctx, u)
	if s.metrics != nil {
		s.metrics.RecordMetadataFetch(err == nil)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "URLメタデータの取得に失敗しました",
			slog.String("url", u.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if md.IsEmpty() {
		return nil
	}
	return &md
}

func (s *Service) sanitize(text string) string {
	if s.sanitizer == nil {
		return text
	}
	return s.sanitizer.SanitizeText(text)
}

func (s *Service) record(command string, err error) {
	if s.metrics != nil {
		s.metrics.RecordCommand(command, err)
	}
}
