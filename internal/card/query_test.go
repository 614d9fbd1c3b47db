package card

import (
	"context"
	"testing"

	"github.com/hitoshi/cardshelf/internal/identity"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
	"github.com/hitoshi/cardshelf/internal/repository/memory"
)

// mockResolver はハンドルとDIDの対応表で解決するResolver。
type mockResolver struct {
	handles map[string]model.CuratorID
}

func (m *mockResolver) ResolveToCanonicalID(_ context.Context, identifier string) (model.CuratorID, error) {
	if id, ok := m.handles[identifier]; ok {
		return id, nil
	}
	if id, err := model.NewCuratorID(identifier); err == nil {
		return id, nil
	}
	return model.CuratorID{}, model.NewCuratorNotFoundError(identifier)
}

// mockProfiles はハンドルを返すProfileProvider。
type mockProfiles struct {
	names map[string]string
}

func (m *mockProfiles) GetProfile(_ context.Context, id model.CuratorID) identity.Profile {
	return identity.Profile{ID: id, Handle: m.names[id.String()]}
}

func newQueryEnv(t *testing.T) (*testEnv, *QueryService) {
	t.Helper()
	env := newTestEnv()
	qs := NewQueryService(
		memory.NewCardQueryRepo(env.store),
		env.cards,
		&mockResolver{handles: map[string]model.CuratorID{"alice.example.com": alice}},
		&mockProfiles{names: map[string]string{alice.String(): "alice.example.com", bob.String(): "bob.example.com"}},
	)
	return env, qs
}

// TestGetURLCardView_ViewerNoteMatchesListRule は閲覧者のメモが一覧と同じくNOTE優先、なければHIGHLIGHTで選ばれることを検証する。
func TestGetURLCardView_ViewerNoteMatchesListRule(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	res, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/h", Note: "alice note"})
	if err != nil {
		t.Fatalf("AddURLToLibrary: %v", err)
	}
	if _, err := env.svc.AddHighlight(ctx, AddHighlightInput{CuratorID: alice, ParentCardID: res.URLCardID, Text: "alice quote"}); err != nil {
		t.Fatalf("AddHighlight(alice): %v", err)
	}
	if err := env.svc.AddCardToLibrary(ctx, res.URLCardID, bob); err != nil {
		t.Fatalf("AddCardToLibrary: %v", err)
	}
	if _, err := env.svc.AddHighlight(ctx, AddHighlightInput{CuratorID: bob, ParentCardID: res.URLCardID, Text: "bob quote"}); err != nil {
		t.Fatalf("AddHighlight(bob): %v", err)
	}

	tests := []struct {
		viewer model.CuratorID
		want   string
	}{
		{alice, "alice note"},
		{bob, "bob quote"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			viewer := tt.viewer
			detail, err := qs.GetURLCardView(ctx, res.URLCardID, &viewer)
			if err != nil {
				t.Fatalf("GetURLCardView: %v", err)
			}
			if detail.ViewerNote == nil || detail.ViewerNote.Text != tt.want {
				t.Errorf("viewer note = %+v, want %q", detail.ViewerNote, tt.want)
			}

			page, err := qs.GetURLCardsOfUser(ctx, tt.viewer.String(), query.DefaultCardOptions())
			if err != nil {
				t.Fatalf("GetURLCardsOfUser: %v", err)
			}
			if len(page.Cards.Items) != 1 || page.Cards.Items[0].Note == nil {
				t.Fatalf("items = %+v", page.Cards.Items)
			}
			if got := page.Cards.Items[0].Note.Text; got != tt.want {
				t.Errorf("list note = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestGetURLCardsOfUser_ByHandle はハンドル指定でキュレーターのURLカードとメモが返ることを検証する。
func TestGetURLCardsOfUser_ByHandle(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	res, err := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/q", Note: "mine"})
	if err != nil {
		t.Fatalf("AddURLToLibrary: %v", err)
	}

	page, err := qs.GetURLCardsOfUser(ctx, "alice.example.com", query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetURLCardsOfUser がエラーを返した: %v", err)
	}
	if page.Curator.Handle != "alice.example.com" {
		t.Errorf("curator handle = %q", page.Curator.Handle)
	}
	if page.Cards.TotalCount != 1 || len(page.Cards.Items) != 1 {
		t.Fatalf("totalCount = %d, items = %d, want 1", page.Cards.TotalCount, len(page.Cards.Items))
	}
	item := page.Cards.Items[0]
	if !item.ID.Equals(res.URLCardID) {
		t.Errorf("card id = %s", item.ID)
	}
	if item.Note == nil || item.Note.Text != "mine" {
		t.Errorf("note = %+v", item.Note)
	}
}

// TestGetURLCardsOfUser_UnknownHandle は解決できない識別子がNotFoundになることを検証する。
func TestGetURLCardsOfUser_UnknownHandle(t *testing.T) {
	_, qs := newQueryEnv(t)
	if _, err := qs.GetURLCardsOfUser(context.Background(), "nobody.example.com", query.DefaultCardOptions()); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestGetURLCardsOfUser_InvalidPagination は範囲外のlimitがValidationErrorになることを検証する。
func TestGetURLCardsOfUser_InvalidPagination(t *testing.T) {
	_, qs := newQueryEnv(t)
	opts := query.DefaultCardOptions()
	opts.Limit = 101
	if _, err := qs.GetURLCardsOfUser(context.Background(), alice.String(), opts); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestGetURLCardView_WithLibrariesAndViewerNote はライブラリのプロフィールと閲覧者のメモが付与されることを検証する。
func TestGetURLCardView_WithLibrariesAndViewerNote(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	res, _ := env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/v", Note: "alice note"})
	if err := env.svc.AddCardToLibrary(ctx, res.URLCardID, bob); err != nil {
		t.Fatalf("AddCardToLibrary: %v", err)
	}

	viewer := alice
	detail, err := qs.GetURLCardView(ctx, res.URLCardID, &viewer)
	if err != nil {
		t.Fatalf("GetURLCardView がエラーを返した: %v", err)
	}
	if detail.Author.Handle != "alice.example.com" {
		t.Errorf("author = %+v", detail.Author)
	}
	if len(detail.Libraries) != 2 || detail.LibraryCount != 2 {
		t.Errorf("libraries = %d, libraryCount = %d, want 2", len(detail.Libraries), detail.LibraryCount)
	}
	if detail.ViewerNote == nil || detail.ViewerNote.Text != "alice note" {
		t.Errorf("viewer note = %+v", detail.ViewerNote)
	}

	anonymous, err := qs.GetURLCardView(ctx, res.URLCardID, nil)
	if err != nil {
		t.Fatalf("GetURLCardView(nil viewer): %v", err)
	}
	if anonymous.ViewerNote != nil {
		t.Error("viewer note should be nil without viewer")
	}

	if _, err := qs.GetURLCardView(ctx, model.NewCardID(), nil); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestGetLibrariesForURL_EnrichesProfiles はURLのライブラリ一覧にプロフィールが付与されることを検証する。
func TestGetLibrariesForURL_EnrichesProfiles(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	_, _ = env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: alice, URL: "https://example.com/shared"})
	_, _ = env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{CuratorID: bob, URL: "https://example.com/shared", Note: "bob's take"})

	libs, err := qs.GetLibrariesForURL(ctx, "https://example.com/shared", query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetLibrariesForURL がエラーを返した: %v", err)
	}
	if libs.TotalCount != 2 {
		t.Fatalf("totalCount = %d, want 2", libs.TotalCount)
	}
	for _, item := range libs.Items {
		if item.Curator.Handle == "" {
			t.Errorf("profile missing for %s", item.CuratorID)
		}
	}

	notes, err := qs.GetNoteCardsForURL(ctx, "https://example.com/shared", query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetNoteCardsForURL がエラーを返した: %v", err)
	}
	if notes.TotalCount != 1 || notes.Items[0].Author.Handle != "bob.example.com" {
		t.Errorf("notes = %+v", notes.Items)
	}
}

// TestGetCollectionCards はコレクション内のカード一覧を検証する。
func TestGetCollectionCards(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	col := env.saveCollection(t, alice, "Board", model.AccessTypeOpen)
	_, _ = env.svc.AddURLToLibrary(ctx, AddURLToLibraryInput{
		CuratorID: alice, URL: "https://example.com/c1", CollectionIDs: []model.CollectionID{col.ID()},
	})

	result, err := qs.GetCollectionCards(ctx, col.ID(), query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetCollectionCards がエラーを返した: %v", err)
	}
	if result.TotalCount != 1 || result.HasMore {
		t.Errorf("totalCount = %d, hasMore = %v", result.TotalCount, result.HasMore)
	}
}
