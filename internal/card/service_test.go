package card

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/provenance"
	"github.com/hitoshi/cardshelf/internal/repository/memory"
)

var (
	alice = model.MustCuratorID("did:plc:alice000000000000000000")
	bob   = model.MustCuratorID("did:plc:bob00000000000000000000")
)

// --- モック ---

type mockFetcher struct {
	fetchFn func(ctx context.Context, u model.URL) (model.URLMetadata, error)
	calls   int
}

func (m *mockFetcher) Fetch(ctx context.Context, u model.URL) (model.URLMetadata, error) {
	m.calls++
	return m.fetchFn(ctx, u)
}

type testEnv struct {
	store       *memory.Store
	cards       *memory.CardRepo
	collections *memory.CollectionRepo
	svc         *Service
}

func newTestEnv(opts ...Option) *testEnv {
	store := memory.NewStore()
	env := &testEnv{
		store:       store,
		cards:       memory.NewCardRepo(store),
		collections: memory.NewCollectionRepo(store),
	}
	env.svc = NewService(memory.NewUnitOfWork(store), env.cards, env.collections, opts...)
	return env
}

func (e *testEnv) saveCollection(t *testing.T, author model.CuratorID, name string, access model.AccessType) *model.Collection {
	t.Helper()
	col, err := model.NewCollection(model.CollectionParams{AuthorID: author, Name: name, AccessType: access})
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	if err := e.collections.Save(context.Background(), col); err != nil {
		t.Fatalf("Save collection: %v", err)
	}
	return col
}

func (e *testEnv) mustCard(t *testing.T, id model.CardID) *model.Card {
	t.Helper()
	card, err := e.cards.FindByID(context.Background(), id)
	if err != nil || card == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, card, err)
	}
	return card
}

func (e *testEnv) mustCollection(t *testing.T, id model.CollectionID) *model.Collection {
	t.Helper()
	col, err := e.collections.FindByID(context.Background(), id)
	if err != nil || col == nil {
		t.Fatalf("FindByID(%s) = %v, %v", id, col, err)
	}
	return col
}

// TestAddURLToLibrary_CreatesCardNoteAndLink はURLカード・メモ・コレクションリンクがまとめて作られることを検証する。
func TestAddURLToLibrary_CreatesCardNoteAndLink(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, _ model.URL) (model.URLMetadata, error) {
		return model.URLMetadata{Title: "Example Article", SiteName: "Example"}, nil
	}}
	env := newTestEnv(WithMetadataFetcher(fetcher))
	col := env.saveCollection(t, alice, "Reading", model.AccessTypeClosed)

	res, err := env.svc.AddURLToLibrary(context.Background(), AddURLToLibraryInput{
		CuratorID:     alice,
		URL:           "https://Example.com/article",
		Note:          "worth a second read",
		CollectionIDs: []model.CollectionID{col.ID()},
	})
	if err != nil {
		t.Fatalf("AddURLToLibrary がエラーを返した: %v", err)
	}
	if res.NoteCardID == nil {
		t.Fatal("NoteCardID should be set")
	}

	card := env.mustCard(t, res.URLCardID)
	if card.LibraryCount() != 1 || !card.IsInLibrary(alice) {
		t.Errorf("libraryCount = %d, want 1", card.LibraryCount())
	}
	content := card.Content().(model.URLContent)
	if content.Metadata() == nil || content.Metadata().Title != "Example Article" {
		t.Errorf("metadata = %+v", content.Metadata())
	}

	note := env.mustCard(t, *res.NoteCardID)
	if p := note.ParentCardID(); p == nil || !p.Equals(card.ID()) {
		t.Errorf("note parent = %v, want %s", p, card.ID())
	}
	if note.Content().(model.NoteContent).Text() != "worth a second read" {
		t.Errorf("note text = %q", note.Content().(model.NoteContent).Text())
	}

	if got := env.mustCollection(t, col.ID()); !got.HasCard(card.ID()) || got.CardCount() != 1 {
		t.Errorf("collection cardCount = %d, want 1", got.CardCount())
	}
}

// TestAddURLToLibrary_ReusesExistingCard は同じURLの2回目の追加で既存カードとメモが再利用されることを検証する。
func TestAddURLToLibrary_ReusesExistingCard(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, _ model.URL) (model.URLMetadata, error) {
		return model.URLMetadata{Title: "t"}, nil
	}}
	env := newTestEnv(WithMetadataFetcher(fetcher))
	ctx := context.Background()

	first, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/a", Note: "v1"})
	if err != nil {
		t.Fatalf("first AddURLToLibrary: %v", err)
	}
	second, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://EXAMPLE.com/a#top", Note: "v2"})
	if err != nil {
		t.Fatalf("second AddURLToLibrary: %v", err)
	}

	if !first.URLCardID.Equals(second.URLCardID) {
		t.Errorf("card ids differ: %s vs %s", first.URLCardID, second.URLCardID)
	}
	if !first.NoteCardID.Equals(*second.NoteCardID) {
		t.Errorf("note ids differ")
	}
	if got := env.mustCard(t, *second.NoteCardID).Content().(model.NoteContent).Text(); got != "v2" {
		t.Errorf("note text = %q, want v2", got)
	}
	if env.mustCard(t, first.URLCardID).LibraryCount() != 1 {
		t.Error("libraryCount should stay 1")
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
}

// TestAddURLToLibrary_ClosedCollectionRollsBack は他人のCLOSEDコレクション指定でAccessErrorになり、何も保存されないことを検証する。
func TestAddURLToLibrary_ClosedCollectionRollsBack(t *testing.T) {
	env := newTestEnv()
	col := env.saveCollection(t, bob, "Bob only", model.AccessTypeClosed)
	ctx := context.Background()

	_, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{
		CuratorID:     alice,
		URL:           "https://example.com/closed",
		CollectionIDs: []model.CollectionID{col.ID()},
	})
	if !model.IsAccess(err) {
		t.Fatalf("expected access error, got %v", err)
	}

	card, err := env.cards.FindUsersURLCard(ctx, alice, model.MustURL("https://example.com/closed"))
	if err != nil {
		t.Fatalf("FindUsersURLCard: %v", err)
	}
	if card != nil {
		t.Error("card should not be persisted after rollback")
	}
	if env.mustCollection(t, col.ID()).CardCount() != 0 {
		t.Error("collection should be unchanged")
	}
}

// TestAddURLToLibrary_ClosedCollectionAlreadyLinked は既にリンク済みのカードでも、CLOSEDコレクションへの追加は権限で拒否されることを検証する。
func TestAddURLToLibrary_ClosedCollectionAlreadyLinked(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	res, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/linked"})
	if err != nil {
		t.Fatalf("AddURLToLibrary: %v", err)
	}
	col, err := model.NewCollection(model.CollectionParams{AuthorID: bob, Name: "Bob only", AccessType: model.AccessTypeClosed})
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	if err := col.AddCard(res.URLCardID, bob); err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if err := env.collections.Save(ctx, col); err != nil {
		t.Fatalf("Save collection: %v", err)
	}

	_, err = env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{
		CuratorID:     alice,
		URL:           "https://example.com/linked",
		CollectionIDs: []model.CollectionID{col.ID()},
	})
	if !model.IsAccess(err) {
		t.Fatalf("expected access error, got %v", err)
	}
	if got := env.mustCollection(t, col.ID()).CardCount(); got != 1 {
		t.Errorf("cardCount = %d, want 1", got)
	}
}

// TestAddURLToLibrary_MetadataFailureIgnored はメタデータ取得の失敗がコマンドを失敗させないことを検証する。
func TestAddURLToLibrary_MetadataFailureIgnored(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(_ context.Context, _ model.URL) (model.URLMetadata, error) {
		return model.URLMetadata{}, errors.New("timeout")
	}}
	env := newTestEnv(WithMetadataFetcher(fetcher))

	res, err := env.svc.AddURLToLibrary(context.Background(), AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/slow"})
	if err != nil {
		t.Fatalf("AddURLToLibrary がエラーを返した: %v", err)
	}
	if md := env.mustCard(t, res.URLCardID).Content().(model.URLContent).Metadata(); md != nil {
		t.Errorf("metadata = %+v, want nil", md)
	}
}

// TestAddURLToLibrary_InvalidURL は不正なURLがValidationErrorになることを検証する。
func TestAddURLToLibrary_InvalidURL(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.AddURLToLibrary(context.Background(), AddURLToLibraryInput{CuratorID: alice, URL: "ftp://example.com"})
	if !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestAddURLToLibrary_PublishesMembership はPublisher設定時にメンバーシップと元記録が保存されることを検証する。
func TestAddURLToLibrary_PublishesMembership(t *testing.T) {
	store := memory.NewStore()
	prov := provenance.NewService(memory.NewPublishedRecordRepo(store), memory.NewCollectionQueryRepo(store),
		provenance.WithPublisher(provenance.NewLocalPublisher()))
	cards := memory.NewCardRepo(store)
	svc := NewService(memory.NewUnitOfWork(store), cards, memory.NewCollectionRepo(store), WithPublisher(prov))

	res, err := svc.AddURLToLibrary(context.Background(), AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/pub"})
	if err != nil {
		t.Fatalf("AddURLToLibrary がエラーを返した: %v", err)
	}
	card, _ := cards.FindByID(context.Background(), res.URLCardID)
	m, _ := card.LibraryMembershipOf(alice)
	if m.PublishedRecord == nil {
		t.Fatal("membership should carry a published record")
	}
	if card.OriginalPublishedRecord().URI() != m.PublishedRecord.URI() {
		t.Errorf("original uri = %q, want %q", card.OriginalPublishedRecord().URI(), m.PublishedRecord.URI())
	}
}

// TestAddCardToLibrary は他のキュレーターのカード追加でlibraryCountが増えることを検証する。
func TestAddCardToLibrary(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/shared"})

	for i := 0; i < 2; i++ {
		if err := env.svc.AddCardToLibrary(ctx, res.URLCardID, bob); err != nil {
			t.Fatalf("AddCardToLibrary がエラーを返した: %v", err)
		}
	}
	card := env.mustCard(t, res.URLCardID)
	if card.LibraryCount() != 2 || !card.IsInLibrary(bob) {
		t.Errorf("libraryCount = %d, want 2", card.LibraryCount())
	}

	if err := env.svc.AddCardToLibrary(ctx, model.NewCardID(), bob); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestRemoveCardFromLibrary はライブラリから外すと自分のコレクションとメモから外れることを検証する。
func TestRemoveCardFromLibrary(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	own := env.saveCollection(t, alice, "Mine", model.AccessTypeOpen)
	other := env.saveCollection(t, bob, "Open board", model.AccessTypeOpen)

	res, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{
		CuratorID:     alice,
		URL:           "https://example.com/remove",
		Note:          "note",
		CollectionIDs: []model.CollectionID{own.ID(), other.ID()},
	})
	if err != nil {
		t.Fatalf("AddURLToLibrary: %v", err)
	}

	if err := env.svc.RemoveCardFromLibrary(ctx, res.URLCardID, alice); err != nil {
		t.Fatalf("RemoveCardFromLibrary がエラーを返した: %v", err)
	}

	if env.mustCard(t, res.URLCardID).LibraryCount() != 0 {
		t.Error("libraryCount should be 0")
	}
	if env.mustCard(t, *res.NoteCardID).IsInLibrary(alice) {
		t.Error("note should be removed from library")
	}
	if env.mustCollection(t, own.ID()).HasCard(res.URLCardID) {
		t.Error("card should be removed from own collection")
	}
	if !env.mustCollection(t, other.ID()).HasCard(res.URLCardID) {
		t.Error("card should remain in other curator's collection")
	}

	// 2回目は何もしない
	if err := env.svc.RemoveCardFromLibrary(ctx, res.URLCardID, alice); err != nil {
		t.Errorf("second RemoveCardFromLibrary: %v", err)
	}
}

// TestUpdateNoteCard は作成者のみがメモを更新できることを検証する。
func TestUpdateNoteCard(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/n", Note: "draft"})

	if err := env.svc.UpdateNoteCard(ctx, *res.NoteCardID, bob, "hijack"); !model.IsAccess(err) {
		t.Errorf("expected access error, got %v", err)
	}
	if err := env.svc.UpdateNoteCard(ctx, res.URLCardID, alice, "x"); !model.IsValidation(err) {
		t.Errorf("expected validation error for url card, got %v", err)
	}
	if err := env.svc.UpdateNoteCard(ctx, *res.NoteCardID, alice, "final"); err != nil {
		t.Fatalf("UpdateNoteCard がエラーを返した: %v", err)
	}
	if got := env.mustCard(t, *res.NoteCardID).Content().(model.NoteContent).Text(); got != "final" {
		t.Errorf("text = %q, want final", got)
	}
}

// TestDeleteCard は削除で他人のCLOSEDコレクションからもリンクが外れることを検証する。
func TestDeleteCard(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/del"})

	closed, _ := model.NewCollection(model.CollectionParams{
		AuthorID: bob, Name: "Bob closed", AccessType: model.AccessTypeClosed,
	})
	_ = closed.AddCard(res.URLCardID, bob)
	if err := env.collections.Save(ctx, closed); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := env.svc.DeleteCard(ctx, res.URLCardID, bob); !model.IsAccess(err) {
		t.Errorf("expected access error, got %v", err)
	}
	if err := env.svc.DeleteCard(ctx, res.URLCardID, alice); err != nil {
		t.Fatalf("DeleteCard がエラーを返した: %v", err)
	}

	if card, _ := env.cards.FindByID(ctx, res.URLCardID); card != nil {
		t.Error("card should be deleted")
	}
	col := env.mustCollection(t, closed.ID())
	if col.HasCard(res.URLCardID) || col.CardCount() != 0 {
		t.Errorf("collection cardCount = %d, want 0", col.CardCount())
	}
}

// TestAddHighlight はURLカードにのみハイライトを追加できることを検証する。
func TestAddHighlight(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	res, _ := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/h", Note: "n"})

	id, err := env.svc.AddHighlight(ctx, AddHighlightInput{CuratorID: bob, ParentCardID: res.URLCardID, Text: "quoted line"})
	if err != nil {
		t.Fatalf("AddHighlight がエラーを返した: %v", err)
	}
	h := env.mustCard(t, id)
	if h.Type() != model.CardTypeHighlight || !h.IsInLibrary(bob) {
		t.Errorf("highlight = %s, inLibrary=%v", h.Type(), h.IsInLibrary(bob))
	}
	if h.URL() == nil || h.URL().String() != "https://example.com/h" {
		t.Errorf("highlight url = %v", h.URL())
	}

	if _, err := env.svc.AddHighlight(ctx, AddHighlightInput{CuratorID: bob, ParentCardID: *res.NoteCardID, Text: "x"}); !model.IsValidation(err) {
		t.Errorf("expected validation error for note parent, got %v", err)
	}
}
