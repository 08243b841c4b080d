package fixers

import (
	"context"
	"fmt"
	"strings"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

const RemapSlugsName = "remap-slugs"

// RemapSlugs rewrites page slugs and site menu paths through a fixed table.
//
// Page ids are left alone; only the slug field changes. The table must not
// chain (see Tables.ValidateSlugs), which is what makes a second run a no-op.
type RemapSlugs struct {
	Table map[string]string
}

func (RemapSlugs) Name() string { return RemapSlugsName }

func (f RemapSlugs) Description() string {
	return fmt.Sprintf("remap %d legacy page slugs and menu paths", len(f.Table))
}

func (f RemapSlugs) Plan(ctx context.Context, client store.Client) (*Plan, error) {
	plan := &Plan{Fixer: f.Name()}

	pages, err := client.Fetch(ctx, store.Query{Types: []string{content.TypePage}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pages: %w", err)
	}
	for _, page := range pages {
		newSlug, ok := f.Table[page.String(content.FieldSlug)]
		if !ok {
			continue
		}
		plan.Mutations = append(plan.Mutations, store.PatchMutation(page.ID, store.PatchOps{
			Set:        map[string]any{content.FieldSlug: newSlug},
			IfRevision: page.Rev,
		}))
	}

	settings, err := client.Fetch(ctx, store.Query{Types: []string{content.TypeSiteSettings}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch site settings: %w", err)
	}
	for _, doc := range settings {
		var menu []content.MenuItem
		if err := doc.Decode(content.FieldMenu, &menu); err != nil {
			plan.Notes = append(plan.Notes, fmt.Sprintf("%s: unreadable menu: %v", doc.ID, err))
			continue
		}

		changed := false
		for i := range menu {
			if href, ok := f.remapPath(menu[i].Href); ok {
				menu[i].Href = href
				changed = true
			}
		}
		if changed {
			plan.Mutations = append(plan.Mutations, store.PatchMutation(doc.ID, store.PatchOps{
				Set:        map[string]any{content.FieldMenu: menu},
				IfRevision: doc.Rev,
			}))
		}
	}

	return plan, nil
}

// remapPath rewrites the first path segment of a site-relative href,
// keeping the leading slash, any deeper segments, query and fragment.
// External links are never touched.
func (f RemapSlugs) remapPath(href string) (string, bool) {
	if !strings.HasPrefix(href, "/") || strings.HasPrefix(href, "//") {
		return href, false
	}

	rest := href[1:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	newSlug, ok := f.Table[rest[:end]]
	if !ok {
		return href, false
	}
	return "/" + newSlug + rest[end:], true
}
