package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// CardQueryRepo はインメモリのカード読み取りクエリ。
type CardQueryRepo struct {
	store *Store
}

// NewCardQueryRepo はCardQueryRepoを生成する。
func NewCardQueryRepo(store *Store) *CardQueryRepo {
	return &CardQueryRepo{store: store}
}

// cardComparator はCardOptionsのソート条件でカードを比較する関数を返す。
// 同値の場合はIDで並べ、方向はソート項目と同じにする。
func cardComparator(opts query.CardOptions) func(a, b *model.Card) int {
	return func(a, b *model.Card) int {
		var c int
		switch opts.SortBy {
		case query.CardSortCreatedAt:
			c = a.CreatedAt().Compare(b.CreatedAt())
		case query.CardSortLibraryCount:
			c = cmp.Compare(a.LibraryCount(), b.LibraryCount())
		default:
			c = a.UpdatedAt().Compare(b.UpdatedAt())
		}
		if c == 0 {
			c = cmp.Compare(a.ID().String(), b.ID().String())
		}
		if opts.SortOrder == query.SortOrderAsc {
			return c
		}
		return -c
	}
}

// GetURLCardsOfUser はキュレーターのライブラリにあるURLカードを、本人のメモ付きで返す。
func (r *CardQueryRepo) GetURLCardsOfUser(_ context.Context, curatorID model.CuratorID, opts query.CardOptions) (query.Result[repository.URLCardView], error) {
	var result query.Result[repository.URLCardView]
	r.store.read(func() {
		var cards []*model.Card
		for _, c := range r.store.cards {
			if c.Type() == model.CardTypeURL && c.IsInLibrary(curatorID) {
				cards = append(cards, c)
			}
		}
		slices.SortFunc(cards, cardComparator(opts))
		page := query.Paginate(cards, opts.Pagination)

		result = query.Map(page, func(c *model.Card) repository.URLCardView {
			v := urlCardView(c)
			if m, ok := c.LibraryMembershipOf(curatorID); ok && m.PublishedRecord != nil {
				v.URI = m.PublishedRecord.URI()
			}
			v.Note = r.store.noteFor(c.ID(), curatorID)
			v.Collections = r.store.collectionSummariesFor(c.ID())
			return v
		})
	})
	return result, nil
}

// GetCardsInCollection はコレクション内のURLカードを、コレクション作成者のメモ付きで返す。
func (r *CardQueryRepo) GetCardsInCollection(_ context.Context, collectionID model.CollectionID, opts query.CardOptions) (query.Result[repository.URLCardView], error) {
	var result query.Result[repository.URLCardView]
	r.store.read(func() {
		col, ok := r.store.collections[collectionID.String()]
		if !ok {
			result = query.NewResult[repository.URLCardView](nil, 0, opts.Pagination)
			return
		}
		var cards []*model.Card
		for _, link := range col.CardLinks() {
			if c, ok := r.store.cards[link.CardID.String()]; ok && c.Type() == model.CardTypeURL {
				cards = append(cards, c)
			}
		}
		slices.SortFunc(cards, cardComparator(opts))
		page := query.Paginate(cards, opts.Pagination)

		result = query.Map(page, func(c *model.Card) repository.URLCardView {
			v := urlCardView(c)
			v.Note = r.store.noteFor(c.ID(), col.AuthorID())
			return v
		})
	})
	return result, nil
}

// GetURLCardView はURLカード1件のビューを返す。URLカードでない場合はnil。
func (r *CardQueryRepo) GetURLCardView(_ context.Context, cardID model.CardID) (*repository.URLCardView, error) {
	var view *repository.URLCardView
	r.store.read(func() {
		c, ok := r.store.cards[cardID.String()]
		if !ok || c.Type() != model.CardTypeURL {
			return
		}
		v := urlCardView(c)
		v.Collections = r.store.collectionSummariesFor(c.ID())
		view = &v
	})
	return view, nil
}

func urlCardView(c *model.Card) repository.URLCardView {
	v := repository.URLCardView{
		ID:           c.ID(),
		AuthorID:     c.AuthorID(),
		LibraryCount: c.LibraryCount(),
		URI:          c.OriginalPublishedRecord().URI(),
		CreatedAt:    c.CreatedAt(),
		UpdatedAt:    c.UpdatedAt(),
	}
	if u := c.URL(); u != nil {
		v.URL = u.String()
	}
	if content, ok := c.Content().(model.URLContent); ok {
		v.Metadata = content.Metadata()
	}
	return v
}

// noteFor はparentIDに紐づくauthorIDのメモを返す。NOTEをHIGHLIGHTより優先し、古いものを選ぶ。
func (s *Store) noteFor(parentID model.CardID, authorID model.CuratorID) *repository.NoteView {
	var best *model.Card
	for _, c := range s.cards {
		if c.Type() == model.CardTypeURL || !c.IsAuthor(authorID) || !hasParent(c, parentID) {
			continue
		}
		if best == nil || betterNote(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	note := &repository.NoteView{
		ID:        best.ID(),
		AuthorID:  best.AuthorID(),
		CreatedAt: best.CreatedAt(),
		UpdatedAt: best.UpdatedAt(),
	}
	switch content := best.Content().(type) {
	case model.NoteContent:
		note.Text = content.Text()
	case model.HighlightContent:
		note.Text = content.Text()
	}
	return note
}

func betterNote(candidate, current *model.Card) bool {
	candNote := candidate.Type() == model.CardTypeNote
	curNote := current.Type() == model.CardTypeNote
	if candNote != curNote {
		return candNote
	}
	return compareByCreated(candidate, current) < 0
}

func (s *Store) collectionSummariesFor(cardID model.CardID) []repository.CollectionSummary {
	var cols []*model.Collection
	for _, col := range s.collections {
		if col.HasCard(cardID) {
			cols = append(cols, col)
		}
	}
	slices.SortFunc(cols, compareByName)
	summaries := make([]repository.CollectionSummary, 0, len(cols))
	for _, col := range cols {
		summaries = append(summaries, repository.CollectionSummary{
			ID:       col.ID(),
			Name:     col.Name(),
			AuthorID: col.AuthorID(),
			URI:      col.PublishedRecord().URI(),
		})
	}
	return summaries
}

func compareByName(a, b *model.Collection) int {
	if c := cmp.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name())); c != 0 {
		return c
	}
	return cmp.Compare(a.ID().String(), b.ID().String())
}

// GetLibrariesForCard はカードをライブラリに持つキュレーターを追加日時順に返す。
func (r *CardQueryRepo) GetLibrariesForCard(_ context.Context, cardID model.CardID) ([]repository.LibraryEntry, error) {
	entries := []repository.LibraryEntry{}
	r.store.read(func() {
		c, ok := r.store.cards[cardID.String()]
		if !ok {
			return
		}
		for _, m := range c.LibraryMemberships() {
			entries = append(entries, libraryEntry(c, m))
		}
	})
	slices.SortFunc(entries, func(a, b repository.LibraryEntry) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.CuratorID.String(), b.CuratorID.String())
	})
	return entries, nil
}

func libraryEntry(c *model.Card, m model.LibraryMembership) repository.LibraryEntry {
	e := repository.LibraryEntry{
		CuratorID:    m.CuratorID,
		CardID:       c.ID(),
		CardAuthorID: c.AuthorID(),
		AddedAt:      m.AddedAt,
		URI:          m.PublishedRecord.URI(),
	}
	if u := c.URL(); u != nil {
		e.URL = u.String()
	}
	return e
}

type membershipRow struct {
	card       *model.Card
	membership model.LibraryMembership
}

// GetLibrariesForURL はURLのカードをライブラリに持つキュレーターを返す。
func (r *CardQueryRepo) GetLibrariesForURL(_ context.Context, url model.URL, opts query.CardOptions) (query.Result[repository.LibraryEntry], error) {
	var rows []membershipRow
	r.store.read(func() {
		for _, c := range r.store.cards {
			if c.Type() != model.CardTypeURL || c.URL() == nil || !c.URL().Equals(url) {
				continue
			}
			for _, m := range c.LibraryMemberships() {
				rows = append(rows, membershipRow{card: c, membership: m})
			}
		}
	})
	compare := cardComparator(opts)
	slices.SortFunc(rows, func(a, b membershipRow) int {
		if c := compare(a.card, b.card); c != 0 {
			return c
		}
		c := cmp.Compare(a.membership.CuratorID.String(), b.membership.CuratorID.String())
		if opts.SortOrder == query.SortOrderAsc {
			return c
		}
		return -c
	})
	page := query.Paginate(rows, opts.Pagination)
	return query.Map(page, func(row membershipRow) repository.LibraryEntry {
		return libraryEntry(row.card, row.membership)
	}), nil
}

// GetNoteCardsForURL はURLに書かれた全キュレーターのメモを返す。
func (r *CardQueryRepo) GetNoteCardsForURL(_ context.Context, url model.URL, opts query.CardOptions) (query.Result[repository.NoteCardView], error) {
	var notes []*model.Card
	r.store.read(func() {
		for _, c := range r.store.cards {
			if c.Type() == model.CardTypeNote && c.URL() != nil && c.URL().Equals(url) {
				notes = append(notes, c)
			}
		}
	})
	slices.SortFunc(notes, cardComparator(opts))
	page := query.Paginate(notes, opts.Pagination)
	return query.Map(page, func(c *model.Card) repository.NoteCardView {
		content := c.Content().(model.NoteContent)
		return repository.NoteCardView{
			ID:           c.ID(),
			AuthorID:     c.AuthorID(),
			Text:         content.Text(),
			Title:        content.Title(),
			URL:          c.URL().String(),
			ParentCardID: c.ParentCardID(),
			LibraryCount: c.LibraryCount(),
			URI:          c.OriginalPublishedRecord().URI(),
			CreatedAt:    c.CreatedAt(),
			UpdatedAt:    c.UpdatedAt(),
		}
	}), nil
}

// CollectionQueryRepo はインメモリのコレクション読み取りクエリ。
type CollectionQueryRepo struct {
	store *Store
}

// NewCollectionQueryRepo はCollectionQueryRepoを生成する。
func NewCollectionQueryRepo(store *Store) *CollectionQueryRepo {
	return &CollectionQueryRepo{store: store}
}

func collectionComparator(opts query.CollectionOptions) func(a, b *model.Collection) int {
	return func(a, b *model.Collection) int {
		var c int
		switch opts.SortBy {
		case query.CollectionSortName:
			c = cmp.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
		case query.CollectionSortCreatedAt:
			c = a.CreatedAt().Compare(b.CreatedAt())
		case query.CollectionSortCardCount:
			c = cmp.Compare(a.CardCount(), b.CardCount())
		default:
			c = a.UpdatedAt().Compare(b.UpdatedAt())
		}
		if c == 0 {
			c = cmp.Compare(a.ID().String(), b.ID().String())
		}
		if opts.SortOrder == query.SortOrderAsc {
			return c
		}
		return -c
	}
}

func (r *CollectionQueryRepo) findViews(pred func(*model.Collection) bool, opts query.CollectionOptions) query.Result[repository.CollectionView] {
	var cols []*model.Collection
	r.store.read(func() {
		for _, col := range r.store.collections {
			if pred(col) && query.MatchesSearch(opts.SearchText, col.Name(), col.Description()) {
				cols = append(cols, col)
			}
		}
	})
	slices.SortFunc(cols, collectionComparator(opts))
	return query.Map(query.Paginate(cols, opts.Pagination), collectionView)
}

func collectionView(c *model.Collection) repository.CollectionView {
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

// FindByCreator はキュレーターが作成したコレクションを検索条件付きで返す。
func (r *CollectionQueryRepo) FindByCreator(_ context.Context, curatorID model.CuratorID, opts query.CollectionOptions) (query.Result[repository.CollectionView], error) {
	return r.findViews(func(c *model.Collection) bool { return c.IsAuthor(curatorID) }, opts), nil
}

// GetCollectionsWithURL はURLのカードを含むコレクションを重複なく返す。
func (r *CollectionQueryRepo) GetCollectionsWithURL(_ context.Context, url model.URL, opts query.CollectionOptions) (query.Result[repository.CollectionView], error) {
	var urlCardIDs []model.CardID
	r.store.read(func() {
		for _, c := range r.store.cards {
			if c.Type() == model.CardTypeURL && c.URL() != nil && c.URL().Equals(url) {
				urlCardIDs = append(urlCardIDs, c.ID())
			}
		}
	})
	return r.findViews(func(col *model.Collection) bool {
		for _, id := range urlCardIDs {
			if col.HasCard(id) {
				return true
			}
		}
		return false
	}, opts), nil
}

// GetCollectionsContainingCardForUser はキュレーターが作成し、カードを含むコレクションを返す。
func (r *CollectionQueryRepo) GetCollectionsContainingCardForUser(_ context.Context, cardID model.CardID, curatorID model.CuratorID) ([]repository.CollectionView, error) {
	var cols []*model.Collection
	r.store.read(func() {
		for _, col := range r.store.collections {
			if col.IsAuthor(curatorID) && col.HasCard(cardID) {
				cols = append(cols, col)
			}
		}
	})
	slices.SortFunc(cols, compareByName)
	views := make([]repository.CollectionView, 0, len(cols))
	for _, col := range cols {
		views = append(views, collectionView(col))
	}
	return views, nil
}

// FindCollectionIDByURI は公開記録のURIからコレクションIDを解決する。
func (r *CollectionQueryRepo) FindCollectionIDByURI(_ context.Context, uri string) (*model.CollectionID, error) {
	var found *model.CollectionID
	r.store.read(func() {
		for _, col := range r.store.collections {
			if rec := col.PublishedRecord(); rec != nil && rec.URI() == uri {
				id := col.ID()
				found = &id
				return
			}
		}
	})
	return found, nil
}

// FindCardIDByURI は公開記録のURIからカードIDを解決する。
func (r *CollectionQueryRepo) FindCardIDByURI(_ context.Context, uri string) (*model.CardID, error) {
	var found *model.CardID
	if uri == "" {
		return nil, nil
	}
	r.store.read(func() {
		for _, c := range r.store.cards {
			matches := c.OriginalPublishedRecord().URI() == uri
			for _, m := range c.LibraryMemberships() {
				matches = matches || m.PublishedRecord.URI() == uri
			}
			if matches {
				id := c.ID()
				found = &id
				return
			}
		}
	})
	return found, nil
}

// compile-time interface check
var (
	_ repository.CardQueryRepository       = (*CardQueryRepo)(nil)
	_ repository.CollectionQueryRepository = (*CollectionQueryRepo)(nil)
)
