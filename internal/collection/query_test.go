package collection

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

type mockProfiles struct {
	names map[string]string
}

func (m *mockProfiles) GetProfile(_ context.Context, id model.CuratorID) identity.Profile {
	return identity.Profile{ID: id, Handle: m.names[id.String()]}
}

func newQueryEnv(t *testing.T, opts ...Option) (*testEnv, *QueryService) {
	t.Helper()
	env := newTestEnv(opts...)
	qs := NewQueryService(
		memory.NewCollectionQueryRepo(env.store),
		memory.NewCardQueryRepo(env.store),
		env.collections,
		&mockResolver{handles: map[string]model.CuratorID{"alice.example.com": alice}},
		&mockProfiles{names: map[string]string{
			alice.String(): "alice.example.com",
			bob.String():   "bob.example.com",
		}},
	)
	return env, qs
}

// TestGetCollectionsOfCurator_Search はハンドル指定と検索語での絞り込みを検証する。
func TestGetCollectionsOfCurator_Search(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	_, _ = env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: alice, Name: "Go Links", Description: "concurrency"})
	_, _ = env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: alice, Name: "Recipes"})
	_, _ = env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: bob, Name: "Go for bob"})

	page, err := qs.GetCollectionsOfCurator(ctx, "alice.example.com", query.DefaultCollectionOptions())
	if err != nil {
		t.Fatalf("GetCollectionsOfCurator がエラーを返した: %v", err)
	}
	if page.Curator.Handle != "alice.example.com" {
		t.Errorf("curator = %+v", page.Curator)
	}
	if page.Collections.TotalCount != 2 {
		t.Errorf("totalCount = %d, want 2", page.Collections.TotalCount)
	}

	opts := query.DefaultCollectionOptions()
	opts.SearchText = "  CONCURRENCY "
	page, err = qs.GetCollectionsOfCurator(ctx, alice.String(), opts)
	if err != nil {
		t.Fatalf("GetCollectionsOfCurator(search) がエラーを返した: %v", err)
	}
	if page.Collections.TotalCount != 1 || page.Collections.Items[0].Name != "Go Links" {
		t.Errorf("items = %+v", page.Collections.Items)
	}

	if _, err := qs.GetCollectionsOfCurator(ctx, "nobody.example.com", query.DefaultCollectionOptions()); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestGetCollectionPage はヘッダーのプロフィールとカード一覧を検証する。
func TestGetCollectionPage(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	card := env.saveURLCard(t, alice, "https://example.com/page")
	id, _ := env.svc.CreateCollection(ctx, CreateCollectionInput{
		CuratorID:       alice,
		Name:            "Shared",
		CollaboratorIDs: []model.CuratorID{bob},
	})
	if err := env.svc.AddCardToCollections(ctx, card.ID(), []model.CollectionID{id}, alice); err != nil {
		t.Fatalf("AddCardToCollections: %v", err)
	}

	page, err := qs.GetCollectionPage(ctx, id, query.DefaultCardOptions())
	if err != nil {
		t.Fatalf("GetCollectionPage がエラーを返した: %v", err)
	}
	if page.Name != "Shared" || page.CardCount != 1 {
		t.Errorf("header = %+v", page.CollectionView)
	}
	if page.Author.Handle != "alice.example.com" {
		t.Errorf("author = %+v", page.Author)
	}
	if len(page.Collaborators) != 1 || page.Collaborators[0].Handle != "bob.example.com" {
		t.Errorf("collaborators = %+v", page.Collaborators)
	}
	if page.Cards.TotalCount != 1 || !page.Cards.Items[0].ID.Equals(card.ID()) {
		t.Errorf("cards = %+v", page.Cards.Items)
	}

	if _, err := qs.GetCollectionPage(ctx, model.NewCollectionID(), query.DefaultCardOptions()); !model.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestGetCollectionsContainingCard はキュレーター自身のコレクションだけが返ることを検証する。
func TestGetCollectionsContainingCard(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	card := env.saveURLCard(t, alice, "https://example.com/mine")
	mine, _ := env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: alice, Name: "Mine"})
	theirs, _ := env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: bob, Name: "Theirs"})
	if err := env.svc.AddCardToCollections(ctx, card.ID(), []model.CollectionID{mine, theirs}, alice); err != nil {
		t.Fatalf("AddCardToCollections: %v", err)
	}

	views, err := qs.GetCollectionsContainingCard(ctx, card.ID(), alice)
	if err != nil {
		t.Fatalf("GetCollectionsContainingCard がエラーを返した: %v", err)
	}
	if len(views) != 1 || !views[0].ID.Equals(mine) {
		t.Errorf("views = %+v", views)
	}
}

// TestGetCollectionsForURL は同じURLのカードを含むコレクションが作成者付きで返ることを検証する。
func TestGetCollectionsForURL(t *testing.T) {
	env, qs := newQueryEnv(t)
	ctx := context.Background()
	aliceCard := env.saveURLCard(t, alice, "https://example.com/same")
	bobCard := env.saveURLCard(t, bob, "https://example.com/same")
	a, _ := env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: alice, Name: "A"})
	b, _ := env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: bob, Name: "B"})
	_ = env.svc.AddCardToCollections(ctx, aliceCard.ID(), []model.CollectionID{a}, alice)
	_ = env.svc.AddCardToCollections(ctx, bobCard.ID(), []model.CollectionID{b}, bob)
	_ = env.svc.AddCardToCollections(ctx, bobCard.ID(), []model.CollectionID{a}, bob)

	result, err := qs.GetCollectionsForURL(ctx, "https://EXAMPLE.com/same", query.DefaultCollectionOptions())
	if err != nil {
		t.Fatalf("GetCollectionsForURL がエラーを返した: %v", err)
	}
	if result.TotalCount != 2 {
		t.Fatalf("totalCount = %d, want 2", result.TotalCount)
	}
	for _, item := range result.Items {
		if item.Author.Handle == "" {
			t.Errorf("author profile missing for %s", item.ID)
		}
	}

	if _, err := qs.GetCollectionsForURL(ctx, "not a url", query.DefaultCollectionOptions()); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestResolveCollectionURI は公開済みコレクションのURI解決と不正なURIの拒否を検証する。
func TestResolveCollectionURI(t *testing.T) {
	store := memory.NewStore()
	env := newEnvOnStore(store, localPublisher(store))
	qs := NewQueryService(memory.NewCollectionQueryRepo(store), memory.NewCardQueryRepo(store), env.collections, &mockResolver{}, nil)
	ctx := context.Background()

	id, err := env.svc.CreateCollection(ctx, CreateCollectionInput{CuratorID: alice, Name: "Published"})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	uri := env.mustCollection(t, id).PublishedRecord().URI()

	got, err := qs.ResolveCollectionURI(ctx, uri)
	if err != nil {
		t.Fatalf("ResolveCollectionURI がエラーを返した: %v", err)
	}
	if got == nil || !got.Equals(id) {
		t.Errorf("resolved = %v, want %s", got, id)
	}

	unknown, err := qs.ResolveCollectionURI(ctx, "at://"+alice.String()+"/network.cosmik.collection/3kunknown")
	if err != nil || unknown != nil {
		t.Errorf("unknown uri = %v, %v", unknown, err)
	}

	if _, err := qs.ResolveCollectionURI(ctx, "https://example.com/not-at-uri"); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
