package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// CollectionRepo はインメモリのコレクションリポジトリ。
type CollectionRepo struct {
	store *Store
}

// NewCollectionRepo はCollectionRepoを生成する。
func NewCollectionRepo(store *Store) *CollectionRepo {
	return &CollectionRepo{store: store}
}

// FindByID はIDでコレクションを取得する。見つからない場合はnilを返す。
func (r *CollectionRepo) FindByID(_ context.Context, id model.CollectionID) (*model.Collection, error) {
	var found *model.Collection
	r.store.read(func() {
		if c, ok := r.store.collections[id.String()]; ok {
			found = c.Clone()
		}
	})
	return found, nil
}

// FindByIDs は存在するコレクションだけを返す。
func (r *CollectionRepo) FindByIDs(_ context.Context, ids []model.CollectionID) ([]*model.Collection, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id.String()] = true
	}
	return r.filter(func(c *model.Collection) bool { return want[c.ID().String()] }), nil
}

// FindByCardID はカードを含むコレクションを返す。
func (r *CollectionRepo) FindByCardID(_ context.Context, cardID model.CardID) ([]*model.Collection, error) {
	return r.filter(func(c *model.Collection) bool { return c.HasCard(cardID) }), nil
}

// FindByAuthorAndCard はauthorIDが作成し、カードを含むコレクションを返す。
func (r *CollectionRepo) FindByAuthorAndCard(_ context.Context, authorID model.CuratorID, cardID model.CardID) ([]*model.Collection, error) {
	return r.filter(func(c *model.Collection) bool { return c.IsAuthor(authorID) && c.HasCard(cardID) }), nil
}

func (r *CollectionRepo) filter(pred func(*model.Collection) bool) []*model.Collection {
	var matches []*model.Collection
	r.store.read(func() {
		for _, c := range r.store.collections {
			if pred(c) {
				matches = append(matches, c.Clone())
			}
		}
	})
	slices.SortFunc(matches, func(a, b *model.Collection) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID().String(), b.ID().String())
	})
	return matches
}

// Save はバージョンを確認してコレクションを保存する。
func (r *CollectionRepo) Save(ctx context.Context, c *model.Collection) error {
	return r.store.write(ctx, func() error {
		existing, ok := r.store.collections[c.ID().String()]
		if c.Version() == 0 && ok {
			return model.NewConcurrentModificationError("collection", c.ID().String())
		}
		if c.Version() > 0 && (!ok || existing.Version() != c.Version()) {
			return model.NewConcurrentModificationError("collection", c.ID().String())
		}
		stored := c.Clone()
		stored.MarkSaved()
		r.store.collections[c.ID().String()] = stored
		c.MarkSaved()
		return nil
	})
}

// Delete はコレクションを削除する。
func (r *CollectionRepo) Delete(ctx context.Context, id model.CollectionID) error {
	return r.store.write(ctx, func() error {
		delete(r.store.collections, id.String())
		return nil
	})
}

// compile-time interface check
var _ repository.CollectionRepository = (*CollectionRepo)(nil)
