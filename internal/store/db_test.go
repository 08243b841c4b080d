package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

func TestCreateOrReplaceAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	doc := NewDocument("workshop-raku", "workshop", map[string]any{
		"title":          "Raku firing",
		"featuredInHome": false,
	})
	stored, err := db.CreateOrReplace(ctx, doc)
	if err != nil {
		t.Fatalf("CreateOrReplace failed: %v", err)
	}
	if stored.Rev == "" {
		t.Error("expected a revision to be assigned")
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := db.Get(ctx, "workshop-raku")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != "workshop" {
		t.Errorf("expected type workshop, got %s", got.Type)
	}
	if got.String("title") != "Raku firing" {
		t.Errorf("expected title Raku firing, got %q", got.String("title"))
	}

	// Replacing keeps a single row and changes the revision.
	doc.Fields["title"] = "Raku firing weekend"
	replaced, err := db.CreateOrReplace(ctx, doc)
	if err != nil {
		t.Fatalf("second CreateOrReplace failed: %v", err)
	}
	if replaced.Rev == stored.Rev {
		t.Error("expected revision to change on replace")
	}
	if !replaced.CreatedAt.Equal(stored.CreatedAt) {
		t.Error("expected created_at to survive a replace")
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total() != 1 {
		t.Errorf("expected 1 document, got %d", stats.Total())
	}
}

func TestGetNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []*Document{
		NewDocument("class-wheel", "class", map[string]any{"slug": "wheel", "featuredInHome": true}),
		NewDocument("drafts.class-wheel", "class", map[string]any{"slug": "wheel", "featuredInHome": true}),
		NewDocument("workshop-raku", "workshop", map[string]any{"slug": "raku", "featuredInHome": false}),
		NewDocument("page-home", "page", map[string]any{"slug": "home"}),
	}
	if err := db.Mutate(ctx, CreateOrReplace(seed[0]), CreateOrReplace(seed[1]),
		CreateOrReplace(seed[2]), CreateOrReplace(seed[3])); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"by type", Query{Types: []string{"class", "workshop"}}, []string{"class-wheel", "drafts.class-wheel", "workshop-raku"}},
		{"exclude drafts", Query{Types: []string{"class"}, Drafts: DraftsExclude}, []string{"class-wheel"}},
		{"drafts only", Query{Drafts: DraftsOnly}, []string{"drafts.class-wheel"}},
		{"where string", Query{Where: map[string]any{"slug": "home"}}, []string{"page-home"}},
		{"where bool", Query{Where: map[string]any{"featuredInHome": true}, Drafts: DraftsExclude}, []string{"class-wheel"}},
		{"by ids", Query{IDs: []string{"workshop-raku", "missing"}}, []string{"workshop-raku"}},
		{"limit", Query{Limit: 2}, []string{"class-wheel", "drafts.class-wheel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := db.Fetch(ctx, tt.q)
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if len(docs) != len(tt.want) {
				t.Fatalf("expected %d documents, got %d", len(tt.want), len(docs))
			}
			for i, id := range tt.want {
				if docs[i].ID != id {
					t.Errorf("result %d: expected %s, got %s", i, id, docs[i].ID)
				}
			}
		})
	}
}

func TestFetchRejectsInvalidPath(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Fetch(context.Background(), Query{Where: map[string]any{"slug') OR 1=1 --": "x"}})
	if err == nil {
		t.Error("expected error for invalid field path")
	}
}

func TestMutateIsAtomic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Mutate(ctx,
		CreateOrReplace(NewDocument("post-hello", "post", nil)),
		PatchMutation("missing", PatchOps{Set: map[string]any{"title": "x"}}),
	)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from patch of missing doc, got %v", err)
	}

	if _, err := db.Get(ctx, "post-hello"); !errors.Is(err, ErrNotFound) {
		t.Error("expected the create to be rolled back")
	}
}

func TestPatchSetUnsetAndConditional(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	doc, err := db.CreateOrReplace(ctx, NewDocument("class-wheel", "class", map[string]any{
		"title": "Wheel", "price": 80.0,
	}))
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := Patch(db, "class-wheel").
		Set(map[string]any{"featuredInHome": true}).
		Unset("price").
		IfRevision(doc.Rev).
		Commit(ctx); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	got, _ := db.Get(ctx, "class-wheel")
	if !got.Bool("featuredInHome") {
		t.Error("expected featuredInHome to be set")
	}
	if _, ok := got.Fields["price"]; ok {
		t.Error("expected price to be unset")
	}

	// The old revision is stale now.
	err = Patch(db, "class-wheel").Set(map[string]any{"title": "x"}).IfRevision(doc.Rev).Commit(ctx)
	if !errors.Is(err, ErrRevisionConflict) {
		t.Errorf("expected ErrRevisionConflict, got %v", err)
	}

	err = Patch(db, "class-wheel").Set(map[string]any{"_type": "workshop"}).Commit(ctx)
	if err == nil {
		t.Error("expected error when setting a reserved attribute")
	}
}

func TestCreateIfNotExists(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := NewDocument("page-about", "page", map[string]any{"title": "About"})
	if err := db.Mutate(ctx, CreateIfNotExists(first)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second := NewDocument("page-about", "page", map[string]any{"title": "Overwritten"})
	if err := db.Mutate(ctx, CreateIfNotExists(second)); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	got, _ := db.Get(ctx, "page-about")
	if got.String("title") != "About" {
		t.Errorf("expected original title to be kept, got %q", got.String("title"))
	}
}

func TestEmptyTransactionDoesNotWrite(t *testing.T) {
	db := setupTestDB(t)
	db.readOnly = true

	// A read-only store rejects every Mutate call, so a nil error proves
	// the empty transaction never reached the store.
	if err := NewTransaction(db).Commit(context.Background()); err != nil {
		t.Errorf("expected empty commit to be a no-op, got %v", err)
	}
	if err := NewTransaction(db).Delete("x").Commit(context.Background()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestPublishPromotesDraft(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateOrReplace(ctx, NewDocument("drafts.workshop-raku", "workshop", map[string]any{
		"title": "Raku", "featuredInHome": true,
	})); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	published, err := db.Publish(ctx, "drafts.workshop-raku")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if published.ID != "workshop-raku" {
		t.Errorf("expected published id workshop-raku, got %s", published.ID)
	}
	if !published.Bool("featuredInHome") {
		t.Error("expected fields to be carried over")
	}
	if _, err := db.Get(ctx, "drafts.workshop-raku"); !errors.Is(err, ErrNotFound) {
		t.Error("expected draft to be removed")
	}

	// Publishing again without a draft returns the published document.
	again, err := db.Publish(ctx, "workshop-raku")
	if err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}
	if again.Rev != published.Rev {
		t.Error("expected no write when there is no draft")
	}

	if _, err := db.Publish(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUploadAssetIsContentAddressed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	data := []byte("\x89PNG\r\n\x1a\nfake image payload")
	a1, err := db.UploadAsset(ctx, AssetImage, data, "kiln.png")
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}
	a2, err := db.UploadAsset(ctx, AssetImage, data, "/other/path/kiln.png")
	if err != nil {
		t.Fatalf("second UploadAsset failed: %v", err)
	}
	if a1.ID != a2.ID {
		t.Errorf("expected identical ids, got %s and %s", a1.ID, a2.ID)
	}

	asset, got, err := db.GetAsset(ctx, a1.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if string(got) != string(data) {
		t.Error("expected decompressed bytes to match the upload")
	}
	if asset.MimeType != "image/png" {
		t.Errorf("expected image/png, got %s", asset.MimeType)
	}

	stats, _ := db.Stats(ctx)
	if stats.Assets != 1 {
		t.Errorf("expected 1 asset, got %d", stats.Assets)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ro.db")
	rw, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := rw.InitSchema(context.Background()); err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	rw.Close()

	ro, err := Open(dbPath, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("open read-only failed: %v", err)
	}
	defer ro.Close()

	_, err = ro.CreateOrReplace(context.Background(), NewDocument("x", "page", nil))
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	_, err = ro.UploadAsset(context.Background(), AssetImage, []byte("x"), "x.png")
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}
