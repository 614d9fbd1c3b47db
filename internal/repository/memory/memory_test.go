package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

var (
	alice = model.MustCuratorID("did:plc:alice000000000000000000")
	bob   = model.MustCuratorID("did:plc:bob00000000000000000000")
)

const testCID = "bafyreie5737gdxlw5i64vzichcalba3z2v5n6icifvx5xytvske7mr3hpm"

type fixture struct {
	store       *Store
	cards       *CardRepo
	collections *CollectionRepo
	records     *PublishedRecordRepo
	cardQuery   *CardQueryRepo
	colQuery    *CollectionQueryRepo
}

func newFixture() *fixture {
	s := NewStore()
	return &fixture{
		store:       s,
		cards:       NewCardRepo(s),
		collections: NewCollectionRepo(s),
		records:     NewPublishedRecordRepo(s),
		cardQuery:   NewCardQueryRepo(s),
		colQuery:    NewCollectionQueryRepo(s),
	}
}

func (f *fixture) saveURLCard(t *testing.T, author model.CuratorID, raw string, at time.Time) *model.Card {
	t.Helper()
	content, err := model.NewURLContent(model.MustURL(raw), nil)
	if err != nil {
		t.Fatalf("NewURLContent: %v", err)
	}
	card, err := model.NewCard(model.CardParams{
		AuthorID:           author,
		Content:            content,
		LibraryMemberships: []model.LibraryMembership{{CuratorID: author, AddedAt: at}},
		CreatedAt:          at,
	})
	if err != nil {
		t.Fatalf("NewCard: %v", err)
	}
	if err := f.cards.Save(context.Background(), card); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return card
}

func (f *fixture) saveNote(t *testing.T, author model.CuratorID, parent *model.Card, text string) *model.Card {
	t.Helper()
	content, err := model.NewNoteContent(text, "")
	if err != nil {
		t.Fatalf("NewNoteContent: %v", err)
	}
	parentID := parent.ID()
	note, err := model.NewCard(model.CardParams{
		AuthorID:     author,
		Content:      content,
		URL:          parent.URL(),
		ParentCardID: &parentID,
	})
	if err != nil {
		t.Fatalf("NewCard: %v", err)
	}
	if err := f.cards.Save(context.Background(), note); err != nil {
		t.Fatalf("Save note: %v", err)
	}
	return note
}

func (f *fixture) saveCollection(t *testing.T, author model.CuratorID, name, description string, cards ...*model.Card) *model.Collection {
	t.Helper()
	col, err := model.NewCollection(model.CollectionParams{
		AuthorID: author, Name: name, Description: description, AccessType: model.AccessTypeOpen,
	})
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	for _, c := range cards {
		if err := col.AddCard(c.ID(), author); err != nil {
			t.Fatalf("AddCard: %v", err)
		}
	}
	if err := f.collections.Save(context.Background(), col); err != nil {
		t.Fatalf("Save collection: %v", err)
	}
	return col
}

// TestCardsInCollection_SingleCardWithoutNote はURLカード1枚のコレクションがlibraryCount=1・メモなしで返ることを検証する。
func TestCardsInCollection_SingleCardWithoutNote(t *testing.T) {
	f := newFixture()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())
	reads := f.saveCollection(t, alice, "Reads", "", card)

	result, err := f.cardQuery.GetCardsInCollection(context.Background(), reads.ID(), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetCardsInCollection: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(result.Items))
	}
	got := result.Items[0]
	if got.LibraryCount != 1 {
		t.Errorf("LibraryCount = %d, want 1", got.LibraryCount)
	}
	if got.Note != nil {
		t.Errorf("Note = %+v, want nil", got.Note)
	}
	if got.URL != "https://x.test/1" {
		t.Errorf("URL = %q", got.URL)
	}
}

// TestCardsInCollection_IgnoresOtherCuratorsNote はコレクション作成者以外のメモが付かないことを検証する。
func TestCardsInCollection_IgnoresOtherCuratorsNote(t *testing.T) {
	f := newFixture()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())
	reads := f.saveCollection(t, alice, "Reads", "", card)
	f.saveNote(t, bob, card, "bob was here")

	result, err := f.cardQuery.GetCardsInCollection(context.Background(), reads.ID(), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetCardsInCollection: %v", err)
	}
	if result.Items[0].Note != nil {
		t.Fatalf("Note = %+v, want nil", result.Items[0].Note)
	}

	f.saveNote(t, alice, card, "alice's thoughts")
	result, _ = f.cardQuery.GetCardsInCollection(context.Background(), reads.ID(), query.DefaultCardOptions())
	if result.Items[0].Note == nil || result.Items[0].Note.Text != "alice's thoughts" {
		t.Errorf("Note = %+v, want alice's note", result.Items[0].Note)
	}
}

// TestCardsInCollection_UnknownCollection は存在しないコレクションが空の結果になることを検証する。
func TestCardsInCollection_UnknownCollection(t *testing.T) {
	f := newFixture()
	result, err := f.cardQuery.GetCardsInCollection(context.Background(), model.NewCollectionID(), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Items) != 0 || result.TotalCount != 0 || result.HasMore {
		t.Errorf("result = %+v, want empty", result)
	}
}

// TestURLCardsOfUser_OnlyURLCards はNOTEカードが直接返らず、URLカードに自分のメモが付くことを検証する。
func TestURLCardsOfUser_OnlyURLCards(t *testing.T) {
	f := newFixture()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())
	note := f.saveNote(t, alice, card, "mine")
	if err := note.AddToLibrary(alice); err != nil {
		t.Fatalf("AddToLibrary: %v", err)
	}
	if err := f.cards.Save(context.Background(), note); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.saveCollection(t, bob, "Bob's picks", "", card)
	f.saveCollection(t, alice, "alpha", "", card)

	result, err := f.cardQuery.GetURLCardsOfUser(context.Background(), alice, query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetURLCardsOfUser: %v", err)
	}
	if result.TotalCount != 1 || len(result.Items) != 1 {
		t.Fatalf("total=%d items=%d, want 1", result.TotalCount, len(result.Items))
	}
	got := result.Items[0]
	if !got.ID.Equals(card.ID()) {
		t.Errorf("ID = %s, want URL card %s", got.ID, card.ID())
	}
	if got.Note == nil || got.Note.Text != "mine" {
		t.Errorf("Note = %+v", got.Note)
	}
	if len(got.Collections) != 2 || got.Collections[0].Name != "alpha" || got.Collections[1].Name != "Bob's picks" {
		t.Errorf("Collections = %+v, want [alpha, Bob's picks]", got.Collections)
	}
}

// TestURLCardsOfUser_PageBeyondData はデータ範囲外のページが空でHasMore=falseになることを検証する。
func TestURLCardsOfUser_PageBeyondData(t *testing.T) {
	f := newFixture()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.saveURLCard(t, alice, fmt.Sprintf("https://x.test/%d", i), base.Add(time.Duration(i)*time.Hour))
	}

	opts := query.DefaultCardOptions()
	opts.Page, opts.Limit = 2, 5
	result, err := f.cardQuery.GetURLCardsOfUser(context.Background(), alice, opts)
	if err != nil {
		t.Fatalf("GetURLCardsOfUser: %v", err)
	}
	if len(result.Items) != 0 || result.TotalCount != 3 || result.HasMore {
		t.Errorf("result = %+v, want empty page with total 3", result)
	}

	opts.Page, opts.Limit = 1, 2
	opts.SortBy, opts.SortOrder = query.CardSortCreatedAt, query.SortOrderAsc
	result, _ = f.cardQuery.GetURLCardsOfUser(context.Background(), alice, opts)
	if len(result.Items) != 2 || !result.HasMore {
		t.Fatalf("result = %+v, want 2 items with more", result)
	}
	if result.Items[0].URL != "https://x.test/0" {
		t.Errorf("first URL = %q, want oldest", result.Items[0].URL)
	}
}

// TestLibrariesForURL_ExcludesNoteCards は同じURLのNOTEカードがライブラリ一覧に含まれないことを検証する。
func TestLibrariesForURL_ExcludesNoteCards(t *testing.T) {
	f := newFixture()
	now := time.Now()
	aliceCard := f.saveURLCard(t, alice, "https://x.test/shared", now)
	f.saveURLCard(t, bob, "https://x.test/shared", now.Add(time.Minute))
	note := f.saveNote(t, bob, aliceCard, "note with same url")
	_ = note.AddToLibrary(bob)
	_ = f.cards.Save(context.Background(), note)

	result, err := f.cardQuery.GetLibrariesForURL(context.Background(), model.MustURL("https://x.test/shared"), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetLibrariesForURL: %v", err)
	}
	if result.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", result.TotalCount)
	}
	for _, e := range result.Items {
		if e.CardID.Equals(note.ID()) {
			t.Errorf("note card %s should not appear", note.ID())
		}
	}

	notes, err := f.cardQuery.GetNoteCardsForURL(context.Background(), model.MustURL("https://x.test/shared"), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetNoteCardsForURL: %v", err)
	}
	if notes.TotalCount != 1 || notes.Items[0].Text != "note with same url" {
		t.Errorf("notes = %+v", notes)
	}
}

// TestCollectionsWithURL_Deduplicates は同じURLのカードを複数含むコレクションが1件にまとまることを検証する。
func TestCollectionsWithURL_Deduplicates(t *testing.T) {
	f := newFixture()
	now := time.Now()
	a := f.saveURLCard(t, alice, "https://x.test/dup", now)
	b := f.saveURLCard(t, bob, "https://x.test/dup", now)
	f.saveCollection(t, alice, "Both", "", a, b)
	f.saveCollection(t, alice, "Unrelated", "")

	result, err := f.colQuery.GetCollectionsWithURL(context.Background(), model.MustURL("https://x.test/dup"), query.DefaultCollectionOptions())
	if err != nil {
		t.Fatalf("GetCollectionsWithURL: %v", err)
	}
	if result.TotalCount != 1 || result.Items[0].Name != "Both" || result.Items[0].CardCount != 2 {
		t.Errorf("result = %+v, want single 'Both'", result)
	}
}

// TestFindByCreator_Search は6件のうち名前か説明に"python"を含む1件だけが返ることを検証する。
func TestFindByCreator_Search(t *testing.T) {
	f := newFixture()
	seeds := []struct{ name, description string }{
		{"Go Patterns", ""},
		{"Rust", "systems"},
		{"Data Science", "Notebooks in PYTHON"},
		{"Cooking", ""},
		{"Travel", "snakes of the world"},
		{"Music", ""},
	}
	for _, s := range seeds {
		f.saveCollection(t, alice, s.name, s.description)
	}

	tests := []struct {
		search string
		want   int
	}{
		{"python", 1},
		{"PyThOn", 1},
		{"   ", 6},
		{"", 6},
		{"kotlin", 0},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			opts := query.DefaultCollectionOptions()
			opts.SearchText = tt.search
			result, err := f.colQuery.FindByCreator(context.Background(), alice, opts)
			if err != nil {
				t.Fatalf("FindByCreator: %v", err)
			}
			if result.TotalCount != tt.want {
				t.Errorf("TotalCount = %d, want %d", result.TotalCount, tt.want)
			}
		})
	}
}

// TestCollectionsContainingCardForUser は作成者のコレクションだけが名前順で返ることを検証する。
func TestCollectionsContainingCardForUser(t *testing.T) {
	f := newFixture()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())
	f.saveCollection(t, alice, "zeta", "", card)
	f.saveCollection(t, alice, "Alpha", "", card)
	f.saveCollection(t, bob, "bob's", "", card)

	views, err := f.colQuery.GetCollectionsContainingCardForUser(context.Background(), card.ID(), alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 || views[0].Name != "Alpha" || views[1].Name != "zeta" {
		t.Errorf("views = %+v", views)
	}
}

// TestSave_StaleVersionConflicts は古いバージョンの保存がConflictErrorになることを検証する。
func TestSave_StaleVersionConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())

	first, _ := f.cards.FindByID(ctx, card.ID())
	second, _ := f.cards.FindByID(ctx, card.ID())
	_ = first.AddToLibrary(bob)
	if err := f.cards.Save(ctx, first); err != nil {
		t.Fatalf("Save(first): %v", err)
	}
	_ = second.RemoveFromLibrary(alice)
	if err := f.cards.Save(ctx, second); !model.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	stored, _ := f.cards.FindByID(ctx, card.ID())
	if stored.LibraryCount() != 2 {
		t.Errorf("LibraryCount = %d, want 2", stored.LibraryCount())
	}
}

// TestFindByID_ReturnsCopy は取得した集約の変更が保存されるまで反映されないことを検証する。
func TestFindByID_ReturnsCopy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())

	loaded, _ := f.cards.FindByID(ctx, card.ID())
	_ = loaded.AddToLibrary(bob)

	again, _ := f.cards.FindByID(ctx, card.ID())
	if again.LibraryCount() != 1 {
		t.Errorf("LibraryCount = %d, want 1 before save", again.LibraryCount())
	}
}

// TestUnitOfWork_RollsBackOnError は作業単位内の保存がエラー時に破棄されることを検証する。
func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	f := newFixture()
	uow := NewUnitOfWork(f.store)
	boom := errors.New("boom")

	var cardID model.CardID
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		content, _ := model.NewURLContent(model.MustURL("https://x.test/rollback"), nil)
		card, err := model.NewCard(model.CardParams{AuthorID: alice, Content: content})
		if err != nil {
			return err
		}
		cardID = card.ID()
		if err := f.cards.Save(ctx, card); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	found, _ := f.cards.FindByID(context.Background(), cardID)
	if found != nil {
		t.Error("card should have been rolled back")
	}
}

// TestCardDelete_UnlinksFromCollections はカード削除でコレクションのリンクと件数が更新されることを検証する。
func TestCardDelete_UnlinksFromCollections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	card := f.saveURLCard(t, alice, "https://x.test/1", time.Now())
	note := f.saveNote(t, alice, card, "child")
	col := f.saveCollection(t, alice, "Reads", "", card)

	if err := f.cards.Delete(ctx, card.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	reloaded, _ := f.collections.FindByID(ctx, col.ID())
	if reloaded.CardCount() != 0 || reloaded.HasCard(card.ID()) {
		t.Errorf("collection still references deleted card: count=%d", reloaded.CardCount())
	}
	child, _ := f.cards.FindByID(ctx, note.ID())
	if child == nil || child.ParentCardID() != nil {
		t.Errorf("child parent should be cleared, got %+v", child)
	}
}

// TestPublishedRecordUpsert_Concurrent は同じ (uri, cid) を並行に保存しても1件になることを検証する。
func TestPublishedRecordUpsert_Concurrent(t *testing.T) {
	f := newFixture()
	ref, err := model.NewPublishedRecordRef("at://did:plc:alice000000000000000000/network.cosmik.card/3kabc", testCID)
	if err != nil {
		t.Fatalf("NewPublishedRecordRef: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]bool)
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, isNew, err := f.records.Upsert(context.Background(), ref)
			if err != nil {
				t.Errorf("Upsert: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[rec.ID.String()] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	if len(ids) != 1 || created != 1 {
		t.Errorf("distinct ids = %d, created = %d, want 1 and 1", len(ids), created)
	}
}

// TestDeleteOrphansOlderThan は参照中の記録を残し、未参照の古い記録だけを削除することを検証する。
func TestDeleteOrphansOlderThan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.records.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	orphanRef, _ := model.NewPublishedRecordRef("at://did:plc:alice000000000000000000/network.cosmik.card/orphan", testCID)
	usedRef, _ := model.NewPublishedRecordRef("at://did:plc:alice000000000000000000/network.cosmik.collection/used", testCID)
	if _, _, err := f.records.Upsert(ctx, orphanRef); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	used, _, _ := f.records.Upsert(ctx, usedRef)

	col := f.saveCollection(t, alice, "Published", "")
	if err := col.MarkAsPublished(used); err != nil {
		t.Fatalf("MarkAsPublished: %v", err)
	}
	if err := f.collections.Save(ctx, col); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := f.records.DeleteOrphansOlderThan(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteOrphansOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if rec, _ := f.records.FindByURI(ctx, usedRef.URI()); rec == nil {
		t.Error("referenced record was deleted")
	}

	id, _ := f.colQuery.FindCollectionIDByURI(ctx, usedRef.URI())
	if id == nil || !id.Equals(col.ID()) {
		t.Errorf("FindCollectionIDByURI = %v, want %s", id, col.ID())
	}
	missing, _ := f.colQuery.FindCollectionIDByURI(ctx, orphanRef.URI())
	if missing != nil {
		t.Errorf("expected nil for unknown uri, got %v", missing)
	}
}
