package fixers

import (
	"context"
	"fmt"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

const (
	SplitTypesName = "split-types"
	RenameTypeName = "rename-type"
)

// retype returns a createOrReplace of doc under a new type. Ids are kept so
// that home references stay valid.
func retype(doc *store.Document, typ string) store.Mutation {
	cp := doc.Clone()
	cp.Type = typ
	cp.Rev = ""
	return store.CreateOrReplace(cp)
}

// SplitTypes moves migrated offerings from the legacy "content" type to the
// type named by their category.
type SplitTypes struct{}

func (SplitTypes) Name() string { return SplitTypesName }

func (SplitTypes) Description() string {
	return "rename legacy content documents to their category type"
}

func (f SplitTypes) Plan(ctx context.Context, client store.Client) (*Plan, error) {
	plan := &Plan{Fixer: f.Name()}

	docs, err := client.Fetch(ctx, store.Query{Types: []string{content.TypeLegacyContent}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch legacy content: %w", err)
	}

	for _, doc := range docs {
		cat := content.Category(doc.String(content.FieldCategory))
		if !cat.Valid() {
			plan.Notes = append(plan.Notes, fmt.Sprintf("%s has no recognized category, left as %s", doc.ID, doc.Type))
			continue
		}
		plan.Mutations = append(plan.Mutations, retype(doc, string(cat)))
	}
	return plan, nil
}

// RenameType renames every document of one type to another.
type RenameType struct {
	From string
	To   string
}

func (RenameType) Name() string { return RenameTypeName }

func (f RenameType) Description() string {
	return fmt.Sprintf("rename type %s to %s", f.From, f.To)
}

func (f RenameType) Plan(ctx context.Context, client store.Client) (*Plan, error) {
	plan := &Plan{Fixer: f.Name()}

	docs, err := client.Fetch(ctx, store.Query{Types: []string{f.From}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s documents: %w", f.From, err)
	}
	for _, doc := range docs {
		plan.Mutations = append(plan.Mutations, retype(doc, f.To))
	}
	return plan, nil
}
