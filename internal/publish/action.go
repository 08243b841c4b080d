// Package publish models document actions and the hook that attaches
// best-effort home reconciliation to the publish action.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

// Action kinds.
const (
	KindPublish   = "publish"
	KindDelete    = "delete"
	KindDuplicate = "duplicate"
)

// ClientOptions selects the credentials a ClientFactory hands out.
type ClientOptions struct {
	// Elevated asks for the service client instead of the editor's session.
	Elevated bool
}

// ClientFactory returns a store client for the given options.
type ClientFactory func(ClientOptions) (store.Client, error)

// Props identify the document an action runs on.
type Props struct {
	ID     string
	Type   string
	Client ClientFactory
	// OnComplete signals that the operation finished. It must be called
	// exactly once, whatever the outcome.
	OnComplete func(ctx context.Context)
}

// Result is what an action hands back to its caller. OnHandle performs
// the operation.
type Result struct {
	Label    string
	OnHandle func(ctx context.Context) error
}

// Action is a document operation keyed by its kind.
type Action interface {
	Kind() string
	Run(props Props) *Result
}

// Publisher is the authoritative publish action.
type Publisher struct {
	// Publish promotes the draft of id. Typically (*store.DB).Publish.
	Publish func(ctx context.Context, id string) (*store.Document, error)
}

func (Publisher) Kind() string { return KindPublish }

func (p Publisher) Run(props Props) *Result {
	return &Result{
		Label: "Publish",
		OnHandle: func(ctx context.Context) error {
			if _, err := p.Publish(ctx, props.ID); err != nil {
				return fmt.Errorf("publish %s: %w", props.ID, err)
			}
			complete(ctx, props)
			return nil
		},
	}
}

// Deleter removes both the draft and the published variant.
type Deleter struct{}

func (Deleter) Kind() string { return KindDelete }

func (Deleter) Run(props Props) *Result {
	return &Result{
		Label: "Delete",
		OnHandle: func(ctx context.Context) error {
			client, err := props.Client(ClientOptions{})
			if err != nil {
				return err
			}
			err = store.NewTransaction(client).
				Delete(content.DraftID(props.ID)).
				Delete(content.PublishedID(props.ID)).
				Commit(ctx)
			if err != nil {
				return fmt.Errorf("delete %s: %w", props.ID, err)
			}
			complete(ctx, props)
			return nil
		},
	}
}

// Duplicator copies a document to a new draft with a fresh id.
type Duplicator struct {
	// NewID derives the id of the copy. Defaults to "<id>-copy-<key>".
	NewID func(id string) string
}

func (Duplicator) Kind() string { return KindDuplicate }

func (d Duplicator) Run(props Props) *Result {
	return &Result{
		Label: "Duplicate",
		OnHandle: func(ctx context.Context) error {
			client, err := props.Client(ClientOptions{})
			if err != nil {
				return err
			}

			src, err := client.Get(ctx, content.DraftID(props.ID))
			if errors.Is(err, store.ErrNotFound) {
				src, err = client.Get(ctx, content.PublishedID(props.ID))
			}
			if err != nil {
				return fmt.Errorf("duplicate %s: %w", props.ID, err)
			}

			newID := content.PublishedID(props.ID) + "-copy-" + content.NewKey()
			if d.NewID != nil {
				newID = d.NewID(content.PublishedID(props.ID))
			}
			cp := src.Clone()
			cp.ID = content.DraftID(newID)
			cp.Rev = ""
			// A copy starts out of the home page.
			if content.IsCategoryType(cp.Type) {
				cp.Fields[content.FieldFeatured] = false
			}

			if _, err := client.CreateOrReplace(ctx, cp); err != nil {
				return fmt.Errorf("duplicate %s: %w", props.ID, err)
			}
			complete(ctx, props)
			return nil
		},
	}
}

func complete(ctx context.Context, props Props) {
	if props.OnComplete != nil {
		props.OnComplete(ctx)
	}
}
