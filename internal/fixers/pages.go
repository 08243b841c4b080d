package fixers

import (
	"context"
	"fmt"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

const EnsurePagesName = "ensure-pages"

// EnsurePages creates the singleton pages that do not exist yet. Existing
// pages are never modified.
type EnsurePages struct {
	Pages []PageSpec
}

func (EnsurePages) Name() string { return EnsurePagesName }

func (f EnsurePages) Description() string {
	return fmt.Sprintf("create missing singleton pages (%d known)", len(f.Pages))
}

func (f EnsurePages) Plan(ctx context.Context, client store.Client) (*Plan, error) {
	plan := &Plan{Fixer: f.Name()}

	ids := make([]string, 0, len(f.Pages))
	for _, p := range f.Pages {
		ids = append(ids, content.SluggedID(content.TypePage, p.Slug))
	}

	existing, err := client.Fetch(ctx, store.Query{IDs: ids, Drafts: store.DraftsExclude})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pages: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, doc := range existing {
		have[doc.ID] = true
	}

	for i, p := range f.Pages {
		if have[ids[i]] {
			continue
		}
		plan.Mutations = append(plan.Mutations, store.CreateIfNotExists(newPage(p)))
	}
	return plan, nil
}

// newPage builds an empty page. The home page starts with both curated
// sections so the reconciler has somewhere to write.
func newPage(p PageSpec) *store.Document {
	if p.Slug == content.HomeSlug {
		doc := content.NewHomeDocument()
		if p.Title != "" {
			doc.Fields["title"] = p.Title
		}
		return doc
	}
	return store.NewDocument(content.SluggedID(content.TypePage, p.Slug), content.TypePage, map[string]any{
		"title":           p.Title,
		content.FieldSlug: p.Slug,
	})
}
