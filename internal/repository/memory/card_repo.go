package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// CardRepo はインメモリのカードリポジトリ。
type CardRepo struct {
	store *Store
}

// NewCardRepo はCardRepoを生成する。
func NewCardRepo(store *Store) *CardRepo {
	return &CardRepo{store: store}
}

// FindByID はIDでカードを取得する。見つからない場合はnilを返す。
func (r *CardRepo) FindByID(_ context.Context, id model.CardID) (*model.Card, error) {
	var found *model.Card
	r.store.read(func() {
		if c, ok := r.store.cards[id.String()]; ok {
			found = c.Clone()
		}
	})
	return found, nil
}

// firstCard はpredに一致するカードのうち作成日時が最も古いものの複製を返す。
func (r *CardRepo) firstCard(pred func(*model.Card) bool) *model.Card {
	matches := r.filterCards(pred)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// filterCards はpredに一致するカードの複製を作成日時順で返す。
func (r *CardRepo) filterCards(pred func(*model.Card) bool) []*model.Card {
	var matches []*model.Card
	r.store.read(func() {
		for _, c := range r.store.cards {
			if pred(c) {
				matches = append(matches, c.Clone())
			}
		}
	})
	slices.SortFunc(matches, compareByCreated)
	return matches
}

func compareByCreated(a, b *model.Card) int {
	if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID().String(), b.ID().String())
}

// FindUsersURLCard はキュレーターが作成した、そのURLのURLカードを取得する。
func (r *CardRepo) FindUsersURLCard(_ context.Context, curatorID model.CuratorID, url model.URL) (*model.Card, error) {
	return r.firstCard(func(c *model.Card) bool {
		return c.Type() == model.CardTypeURL && c.IsAuthor(curatorID) && c.URL() != nil && c.URL().Equals(url)
	}), nil
}

// FindUsersNoteCard はキュレーターがparentCardIDに書いたNOTEカードを取得する。
func (r *CardRepo) FindUsersNoteCard(_ context.Context, curatorID model.CuratorID, parentCardID model.CardID) (*model.Card, error) {
	return r.firstCard(func(c *model.Card) bool {
		return c.Type() == model.CardTypeNote && c.IsAuthor(curatorID) && hasParent(c, parentCardID)
	}), nil
}

// FindNoteCardsByParent はparentCardIDに紐づくNOTE/HIGHLIGHTカードを作成日時順に返す。
func (r *CardRepo) FindNoteCardsByParent(_ context.Context, parentCardID model.CardID) ([]*model.Card, error) {
	return r.filterCards(func(c *model.Card) bool {
		return c.Type() != model.CardTypeURL && hasParent(c, parentCardID)
	}), nil
}

func hasParent(c *model.Card, parentID model.CardID) bool {
	p := c.ParentCardID()
	return p != nil && p.Equals(parentID)
}

// Save はバージョンを確認してカードを保存する。
func (r *CardRepo) Save(ctx context.Context, card *model.Card) error {
	return r.store.write(ctx, func() error {
		existing, ok := r.store.cards[card.ID().String()]
		if card.Version() == 0 && ok {
			return model.NewConcurrentModificationError("card", card.ID().String())
		}
		if card.Version() > 0 && (!ok || existing.Version() != card.Version()) {
			return model.NewConcurrentModificationError("card", card.ID().String())
		}
		stored := card.Clone()
		stored.MarkSaved()
		r.store.cards[card.ID().String()] = stored
		card.MarkSaved()
		return nil
	})
}

// Delete はカードを削除する。コレクションのリンクを外し、子カードの親参照を解除する。
func (r *CardRepo) Delete(ctx context.Context, id model.CardID) error {
	return r.store.write(ctx, func() error {
		delete(r.store.cards, id.String())

		for key, col := range r.store.collections {
			if !col.HasCard(id) {
				continue
			}
			rebuilt, err := model.NewCollection(collectionParamsWithout(col, id))
			if err != nil {
				return err
			}
			r.store.collections[key] = rebuilt
		}

		for key, c := range r.store.cards {
			if !hasParent(c, id) {
				continue
			}
			p := cardParams(c)
			p.ParentCardID = nil
			rebuilt, err := model.NewCard(p)
			if err != nil {
				return err
			}
			r.store.cards[key] = rebuilt
		}
		return nil
	})
}

func cardParams(c *model.Card) model.CardParams {
	return model.CardParams{
		ID:                      c.ID(),
		AuthorID:                c.AuthorID(),
		Content:                 c.Content(),
		URL:                     c.URL(),
		ParentCardID:            c.ParentCardID(),
		LibraryMemberships:      c.LibraryMemberships(),
		OriginalPublishedRecord: c.OriginalPublishedRecord(),
		CreatedAt:               c.CreatedAt(),
		UpdatedAt:               c.UpdatedAt(),
		Version:                 c.Version(),
	}
}

func collectionParamsWithout(c *model.Collection, cardID model.CardID) model.CollectionParams {
	var links []model.CardLink
	for _, l := range c.CardLinks() {
		if !l.CardID.Equals(cardID) {
			links = append(links, l)
		}
	}
	return model.CollectionParams{
		ID:              c.ID(),
		AuthorID:        c.AuthorID(),
		Name:            c.Name(),
		Description:     c.Description(),
		AccessType:      c.AccessType(),
		CollaboratorIDs: c.CollaboratorIDs(),
		CardLinks:       links,
		PublishedRecord: c.PublishedRecord(),
		CreatedAt:       c.CreatedAt(),
		UpdatedAt:       c.UpdatedAt(),
		Version:         c.Version(),
	}
}

// compile-time interface check
var _ repository.CardRepository = (*CardRepo)(nil)
