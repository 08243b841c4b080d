package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document or asset id does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrRevisionConflict is returned when a conditional patch sees a
	// different _rev than the one it was based on.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrReadOnly is returned for writes through a client opened without a
	// write token.
	ErrReadOnly = errors.New("store is read-only: no write token configured")
)

// Client is the document store surface consumed by the reconciler, the
// publish hook, the migration pipeline and the fixers.
//
// All writes are upserts or idempotent deletes so that callers can re-run
// them safely. Mutate applies its mutations atomically.
type Client interface {
	// Get returns the document with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// Fetch returns all documents matching the query.
	Fetch(ctx context.Context, q Query) ([]*Document, error)

	// Mutate applies every mutation in a single transaction.
	// Either all of them are committed or none is.
	Mutate(ctx context.Context, mutations ...Mutation) error

	// CreateOrReplace writes the document, replacing any previous version.
	CreateOrReplace(ctx context.Context, doc *Document) (*Document, error)

	// Delete removes the document. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// UploadAsset stores a binary and returns its stable asset reference.
	// Uploading identical bytes twice returns the same id.
	UploadAsset(ctx context.Context, kind AssetKind, data []byte, filename string) (*Asset, error)
}

// PatchBuilder accumulates a single-document patch. Obtain one with Patch.
type PatchBuilder struct {
	client Client
	id     string
	ops    PatchOps
}

// Patch starts a patch of the document with the given id.
//
// Example:
//
//	err := store.Patch(client, "page-home").
//	    Set(map[string]any{"sections": sections}).
//	    Commit(ctx)
func Patch(client Client, id string) *PatchBuilder {
	return &PatchBuilder{client: client, id: id}
}

// Set assigns top-level fields.
func (p *PatchBuilder) Set(fields map[string]any) *PatchBuilder {
	if p.ops.Set == nil {
		p.ops.Set = map[string]any{}
	}
	for k, v := range fields {
		p.ops.Set[k] = v
	}
	return p
}

// Unset removes top-level fields.
func (p *PatchBuilder) Unset(keys ...string) *PatchBuilder {
	p.ops.Unset = append(p.ops.Unset, keys...)
	return p
}

// IfRevision makes the commit conditional on the stored revision.
func (p *PatchBuilder) IfRevision(rev string) *PatchBuilder {
	p.ops.IfRevision = rev
	return p
}

// Commit sends the patch to the store.
func (p *PatchBuilder) Commit(ctx context.Context) error {
	return p.client.Mutate(ctx, PatchMutation(p.id, p.ops))
}

// Transaction accumulates mutations that are committed together.
type Transaction struct {
	client    Client
	mutations []Mutation
}

// NewTransaction starts an empty transaction against client.
func NewTransaction(client Client) *Transaction {
	return &Transaction{client: client}
}

// Patch queues a patch.
func (t *Transaction) Patch(id string, ops PatchOps) *Transaction {
	t.mutations = append(t.mutations, PatchMutation(id, ops))
	return t
}

// CreateOrReplace queues a createOrReplace.
func (t *Transaction) CreateOrReplace(doc *Document) *Transaction {
	t.mutations = append(t.mutations, CreateOrReplace(doc))
	return t
}

// CreateIfNotExists queues a createIfNotExists.
func (t *Transaction) CreateIfNotExists(doc *Document) *Transaction {
	t.mutations = append(t.mutations, CreateIfNotExists(doc))
	return t
}

// Delete queues a delete.
func (t *Transaction) Delete(id string) *Transaction {
	t.mutations = append(t.mutations, DeleteMutation(id))
	return t
}

// Add queues arbitrary mutations.
func (t *Transaction) Add(mutations ...Mutation) *Transaction {
	t.mutations = append(t.mutations, mutations...)
	return t
}

// Len returns the number of queued mutations.
func (t *Transaction) Len() int {
	return len(t.mutations)
}

// Mutations returns the queued mutations.
func (t *Transaction) Mutations() []Mutation {
	return t.mutations
}

// Commit applies all queued mutations atomically.
// Committing an empty transaction is a no-op and never reaches the store.
func (t *Transaction) Commit(ctx context.Context) error {
	if len(t.mutations) == 0 {
		return nil
	}
	return t.client.Mutate(ctx, t.mutations...)
}
