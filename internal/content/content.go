// Package content defines the typed views over store documents that the
// reconciler, the publish hook and the migration share.
//
// # Offerings
//
// Every bookable offering is a document whose schema type is its category:
//
//	{
//	  "_id": "workshop-raku",
//	  "_type": "workshop",
//	  "title": "Raku firing weekend",
//	  "slug": "raku",
//	  "featuredInHome": true
//	}
//
// # Home page
//
// The home page is the page document "page-home". Its "sections" list holds
// two curated reference lists, "courses" and "courses2", that mirror the
// featuredInHome flags.
package content

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/claystudio/contentsync/internal/store"
)

// Category is both the category tag and the schema type of an offering.
type Category string

const (
	CategoryClass    Category = "class"
	CategoryWorkshop Category = "workshop"
	CategoryPrivate  Category = "privateSession"
	CategoryGiftCard Category = "giftCard"
)

// Categories returns every recognized category.
func Categories() []Category {
	return []Category{CategoryClass, CategoryWorkshop, CategoryPrivate, CategoryGiftCard}
}

// CategoryTypes returns the categories as schema type names.
func CategoryTypes() []string {
	cats := Categories()
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

// Valid reports whether c is one of the recognized categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// IsCategoryType reports whether a schema type is an offering category.
func IsCategoryType(typ string) bool {
	return Category(typ).Valid()
}

// Document types and well-known ids.
const (
	TypePage          = "page"
	TypePost          = "post"
	TypeSiteSettings  = "siteSettings"
	TypeInstagramPost = "instagramPost"

	// TypeLegacyContent is the type migrated offerings carry until the
	// split-types fixer renames them to their category.
	TypeLegacyContent = "content"

	HomeSlug       = "home"
	HomeID         = "page-home"
	SiteSettingsID = "siteSettings"

	FieldFeatured = "featuredInHome"
	FieldCategory = "category"
	FieldSlug     = "slug"
	FieldSections = "sections"
	FieldMenu     = "menu"
	FieldPosts    = "instagramPosts"
)

// Snapshot is the part of an offering the reconciler cares about.
type Snapshot struct {
	ID       string
	Category Category
	Featured bool
}

// SnapshotFromDocument reads a Snapshot from a store document.
//
// The category comes from the schema type; documents still carrying the
// legacy "content" type fall back to their category field.
func SnapshotFromDocument(doc *store.Document) (Snapshot, error) {
	cat := Category(doc.Type)
	if !cat.Valid() {
		cat = Category(doc.String(FieldCategory))
	}
	if !cat.Valid() {
		return Snapshot{}, fmt.Errorf("document %s (%s) has no recognized category", doc.ID, doc.Type)
	}
	return Snapshot{
		ID:       PublishedID(doc.ID),
		Category: cat,
		Featured: doc.Bool(FieldFeatured),
	}, nil
}

// Reference points at another document by id.
type Reference struct {
	Key  string `json:"_key,omitempty"`
	Type string `json:"_type,omitempty"`
	Ref  string `json:"_ref"`
}

// NewReference returns a reference with a fresh array key.
func NewReference(id string) Reference {
	return Reference{Key: NewKey(), Type: "reference", Ref: PublishedID(id)}
}

// NewKey returns a short random key for array items.
func NewKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Image is an image field pointing at an uploaded asset.
type Image struct {
	Key         string    `json:"_key,omitempty"`
	Type        string    `json:"_type"`
	Asset       Reference `json:"asset"`
	Alt         string    `json:"alt,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	Description string    `json:"description,omitempty"`
}

// NewImage returns an image field referencing assetID.
func NewImage(assetID, alt, caption, description string) *Image {
	return &Image{
		Type:        "image",
		Asset:       Reference{Type: "reference", Ref: assetID},
		Alt:         alt,
		Caption:     caption,
		Description: description,
	}
}

// MenuItem is one entry of the site menu held by the settings document.
type MenuItem struct {
	Key   string `json:"_key,omitempty"`
	Label string `json:"label"`
	Href  string `json:"href"`
}
