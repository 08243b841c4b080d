package fixers

import (
	"context"
	"fmt"
	"sort"

	"github.com/claystudio/contentsync/internal/store"
)

const DedupeSingletonName = "dedupe-singleton"

// DedupeSingleton collapses every document of a singleton type into the
// canonical id.
//
// The canonical document keeps its own values; fields it lacks are filled
// from the duplicates, most recently updated first. Every other document of
// the type, drafts included, is deleted.
type DedupeSingleton struct {
	Type        string
	CanonicalID string
}

func (DedupeSingleton) Name() string { return DedupeSingletonName }

func (f DedupeSingleton) Description() string {
	return fmt.Sprintf("merge duplicate %s documents into %s", f.Type, f.CanonicalID)
}

func (f DedupeSingleton) Plan(ctx context.Context, client store.Client) (*Plan, error) {
	plan := &Plan{Fixer: f.Name()}

	docs, err := client.Fetch(ctx, store.Query{Types: []string{f.Type}, Order: store.OrderByUpdatedDesc})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s documents: %w", f.Type, err)
	}

	var canonical *store.Document
	var dups []*store.Document
	for _, doc := range docs {
		if doc.ID == f.CanonicalID {
			canonical = doc
			continue
		}
		dups = append(dups, doc)
	}

	if len(dups) == 0 {
		return plan, nil
	}

	// docs are newest first, so the first duplicate stands in when the
	// canonical id is missing.
	merged := store.NewDocument(f.CanonicalID, f.Type, nil)
	if canonical != nil {
		merged.Fields = canonical.Clone().Fields
	}
	for _, dup := range dups {
		keys := make([]string, 0, len(dup.Fields))
		for k := range dup.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := merged.Fields[k]; !ok {
				merged.Fields[k] = dup.Fields[k]
			}
		}
	}

	plan.Mutations = append(plan.Mutations, store.CreateOrReplace(merged))
	for _, dup := range dups {
		plan.Mutations = append(plan.Mutations, store.DeleteMutation(dup.ID))
		plan.Notes = append(plan.Notes, fmt.Sprintf("merged %s into %s", dup.ID, f.CanonicalID))
	}
	return plan, nil
}
