package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DraftPrefix marks the draft variant of a document. A draft and its
// published counterpart share the id that follows the prefix.
const DraftPrefix = "drafts."

// Reserved top-level attribute names. They are stored in dedicated columns
// and are never part of Document.Fields.
const (
	AttrID        = "_id"
	AttrType      = "_type"
	AttrRev       = "_rev"
	AttrCreatedAt = "_createdAt"
	AttrUpdatedAt = "_updatedAt"
)

// Document is a typed JSON document held by the store.
//
// On the wire a document is a flat JSON object: the reserved attributes
// (_id, _type, _rev, _createdAt, _updatedAt) sit next to the user fields.
type Document struct {
	ID        string
	Type      string
	Rev       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// NewDocument returns a document with an initialized field map.
func NewDocument(id, typ string, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{ID: id, Type: typ, Fields: fields}
}

// IsDraft reports whether the document id carries the draft prefix.
func (d *Document) IsDraft() bool {
	return strings.HasPrefix(d.ID, DraftPrefix)
}

// String returns a string field, or "" when absent or not a string.
func (d *Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns a boolean field, or false when absent or not a boolean.
func (d *Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Decode round-trips a single field through JSON into out.
func (d *Document) Decode(key string, out any) error {
	v, ok := d.Fields[key]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode field %s of %s: %w", key, d.ID, err)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Fields = map[string]any{}
	if len(d.Fields) > 0 {
		data, err := json.Marshal(d.Fields)
		if err == nil {
			_ = json.Unmarshal(data, &out.Fields)
		}
	}
	return &out
}

// MarshalJSON flattens the document into a single JSON object.
func (d *Document) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Fields)+5)
	for k, v := range d.Fields {
		flat[k] = v
	}
	flat[AttrID] = d.ID
	flat[AttrType] = d.Type
	if d.Rev != "" {
		flat[AttrRev] = d.Rev
	}
	if !d.CreatedAt.IsZero() {
		flat[AttrCreatedAt] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !d.UpdatedAt.IsZero() {
		flat[AttrUpdatedAt] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat JSON object into reserved attributes and fields.
func (d *Document) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	d.ID, _ = flat[AttrID].(string)
	d.Type, _ = flat[AttrType].(string)
	d.Rev, _ = flat[AttrRev].(string)
	if s, ok := flat[AttrCreatedAt].(string); ok {
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := flat[AttrUpdatedAt].(string); ok {
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}

	for _, k := range []string{AttrID, AttrType, AttrRev, AttrCreatedAt, AttrUpdatedAt} {
		delete(flat, k)
	}
	d.Fields = flat
	return nil
}

// DraftMode controls whether Fetch returns draft documents.
type DraftMode int

const (
	// DraftsInclude returns drafts and published documents.
	DraftsInclude DraftMode = iota
	// DraftsExclude returns published documents only.
	DraftsExclude
	// DraftsOnly returns drafts only.
	DraftsOnly
)

// Order selects the result ordering of Fetch.
type Order int

const (
	// OrderByID sorts by document id ascending.
	OrderByID Order = iota
	// OrderByUpdatedDesc sorts most recently written documents first.
	OrderByUpdatedDesc
)

// Query selects documents. Zero values mean "no filter".
type Query struct {
	// Types restricts results to these document types.
	Types []string
	// IDs restricts results to these exact ids.
	IDs []string
	// Where matches JSON field paths (e.g. "slug" or "seo.title") by equality.
	Where map[string]any
	// Drafts controls draft visibility (default: include).
	Drafts DraftMode
	// Order selects the sort order (default: by id).
	Order Order
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// MutationKind identifies the operation carried by a Mutation.
type MutationKind string

const (
	MutationCreateOrReplace   MutationKind = "createOrReplace"
	MutationCreateIfNotExists MutationKind = "createIfNotExists"
	MutationPatch             MutationKind = "patch"
	MutationDelete            MutationKind = "delete"
)

// PatchOps describes a partial update of top-level fields.
type PatchOps struct {
	Set   map[string]any
	Unset []string
	// IfRevision turns the patch into a conditional write: it fails with
	// ErrRevisionConflict unless the stored _rev matches.
	IfRevision string
}

// Mutation is a single write applied by Client.Mutate.
type Mutation struct {
	Kind     MutationKind
	ID       string
	Document *Document
	Patch    PatchOps
}

// CreateOrReplace builds a createOrReplace mutation.
func CreateOrReplace(doc *Document) Mutation {
	return Mutation{Kind: MutationCreateOrReplace, ID: doc.ID, Document: doc}
}

// CreateIfNotExists builds a createIfNotExists mutation.
func CreateIfNotExists(doc *Document) Mutation {
	return Mutation{Kind: MutationCreateIfNotExists, ID: doc.ID, Document: doc}
}

// PatchMutation builds a patch mutation.
func PatchMutation(id string, ops PatchOps) Mutation {
	return Mutation{Kind: MutationPatch, ID: id, Patch: ops}
}

// DeleteMutation builds a delete mutation.
func DeleteMutation(id string) Mutation {
	return Mutation{Kind: MutationDelete, ID: id}
}

// String renders the mutation for logs and dry-run output.
func (m Mutation) String() string {
	switch m.Kind {
	case MutationPatch:
		keys := make([]string, 0, len(m.Patch.Set))
		for k := range m.Patch.Set {
			keys = append(keys, k)
		}
		return fmt.Sprintf("patch %s set=%v unset=%v", m.ID, keys, m.Patch.Unset)
	case MutationCreateOrReplace, MutationCreateIfNotExists:
		typ := ""
		if m.Document != nil {
			typ = m.Document.Type
		}
		return fmt.Sprintf("%s %s (%s)", m.Kind, m.ID, typ)
	default:
		return fmt.Sprintf("%s %s", m.Kind, m.ID)
	}
}

// AssetKind is the kind of binary asset being uploaded.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetFile  AssetKind = "file"
)

// Asset describes an uploaded binary.
type Asset struct {
	ID        string    `json:"_id"`
	Kind      AssetKind `json:"kind"`
	Filename  string    `json:"originalFilename"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"_createdAt"`
}
