package homesync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

// setupBenchDB creates a store with n offerings, every third one featured
// and present on the home page.
func setupBenchDB(b *testing.B, n int) (*store.DB, *content.Home) {
	b.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(b.TempDir(), "bench.db"), store.Options{})
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	b.Cleanup(func() { db.Close() })
	if err := db.InitSchema(ctx); err != nil {
		b.Fatalf("failed to initialize schema: %v", err)
	}

	homeDoc := content.NewHomeDocument()
	home, err := content.HomeFromDocument(homeDoc)
	if err != nil {
		b.Fatal(err)
	}

	tx := store.NewTransaction(db)
	cats := content.Categories()
	for i := 0; i < n; i++ {
		cat := cats[i%len(cats)]
		id := fmt.Sprintf("%s-%04d", cat, i)
		featured := i%3 == 0
		tx.CreateOrReplace(store.NewDocument(id, string(cat), map[string]any{
			"title":               id,
			content.FieldFeatured: featured,
		}))
		if featured {
			home.Section(content.SectionFor(cat)).Add(id)
		}
	}
	homeDoc.Fields[content.FieldSections] = home.Sections
	tx.CreateOrReplace(homeDoc)
	if err := tx.Commit(ctx); err != nil {
		b.Fatalf("failed to seed: %v", err)
	}

	stored, err := db.Get(ctx, content.HomeID)
	if err != nil {
		b.Fatal(err)
	}
	home, err = content.HomeFromDocument(stored)
	if err != nil {
		b.Fatal(err)
	}
	return db, home
}

// BenchmarkSyncHomeToContent measures a converged home-to-content pass,
// the common case after every home page publish.
func BenchmarkSyncHomeToContent(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("offerings=%d", n), func(b *testing.B) {
			db, home := setupBenchDB(b, n)
			rec := New(db, nil)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := rec.SyncHomeToContent(ctx, home); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSyncContentToHome measures the per-publish content-to-home pass.
func BenchmarkSyncContentToHome(b *testing.B) {
	db, _ := setupBenchDB(b, 500)
	rec := New(db, nil)
	ctx := context.Background()
	snap := content.Snapshot{ID: "workshop-0001", Category: content.CategoryWorkshop, Featured: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := rec.SyncContentToHome(ctx, snap); err != nil {
			b.Fatal(err)
		}
	}
}
