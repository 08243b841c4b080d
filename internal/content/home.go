package content

import (
	"encoding/json"
	"fmt"

	"github.com/claystudio/contentsync/internal/store"
)

// SectionType discriminates home page sections.
type SectionType string

const (
	// SectionCourses is the regular curated section.
	SectionCourses SectionType = "courses"
	// SectionWorkshops is the type-B curated section.
	SectionWorkshops SectionType = "courses2"
)

// SectionFor maps a category to the curated section it belongs to.
// Only workshops go to the type-B section; every other category, including
// private sessions and gift cards, lands in the regular one.
func SectionFor(c Category) SectionType {
	if c == CategoryWorkshop {
		return SectionWorkshops
	}
	return SectionCourses
}

// Other returns the opposite curated section.
func (t SectionType) Other() SectionType {
	if t == SectionWorkshops {
		return SectionCourses
	}
	return SectionWorkshops
}

// DefaultTitle is the heading given to a section created by the reconciler.
func (t SectionType) DefaultTitle() string {
	if t == SectionWorkshops {
		return "Workshops"
	}
	return "Classes"
}

// Section is one entry of a page's section list. Fields other than the
// ones modeled here are kept verbatim.
type Section struct {
	Key   string
	Type  SectionType
	Title string
	Items []Reference

	extra map[string]json.RawMessage
}

var sectionKnownKeys = []string{"_key", "type", "title", "items"}

// UnmarshalJSON decodes a section, keeping unknown fields.
func (s *Section) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["_key"]; ok {
		if err := json.Unmarshal(v, &s.Key); err != nil {
			return fmt.Errorf("section: invalid _key: %w", err)
		}
	}
	if v, ok := raw["type"]; ok {
		var typ string
		if err := json.Unmarshal(v, &typ); err != nil {
			return fmt.Errorf("section %s: invalid type: %w", s.Key, err)
		}
		s.Type = SectionType(typ)
	}
	if v, ok := raw["title"]; ok {
		if err := json.Unmarshal(v, &s.Title); err != nil {
			return fmt.Errorf("section %s: invalid title: %w", s.Key, err)
		}
	}
	if v, ok := raw["items"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &s.Items); err != nil {
			return fmt.Errorf("section %s: invalid items: %w", s.Key, err)
		}
	}

	for _, k := range sectionKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

// MarshalJSON encodes a section including preserved unknown fields.
func (s Section) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.extra)+4)
	for k, v := range s.extra {
		out[k] = v
	}
	if s.Key != "" {
		out["_key"] = s.Key
	}
	out["type"] = string(s.Type)
	if s.Title != "" {
		out["title"] = s.Title
	}
	items := s.Items
	if items == nil {
		items = []Reference{}
	}
	out["items"] = items
	return json.Marshal(out)
}

// Contains reports whether the section references id (draft-normalized).
func (s *Section) Contains(id string) bool {
	for _, item := range s.Items {
		if SameDocument(item.Ref, id) {
			return true
		}
	}
	return false
}

// Add appends a reference to id unless one is already present.
// Returns true when the list changed.
func (s *Section) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	s.Items = append(s.Items, NewReference(id))
	return true
}

// Remove drops every reference to id. Returns true when the list changed.
func (s *Section) Remove(id string) bool {
	kept := s.Items[:0]
	removed := false
	for _, item := range s.Items {
		if SameDocument(item.Ref, id) {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	s.Items = kept
	return removed
}

// RefSet returns the draft-normalized ids referenced by the section.
func (s *Section) RefSet() map[string]bool {
	set := make(map[string]bool, len(s.Items))
	for _, item := range s.Items {
		set[PublishedID(item.Ref)] = true
	}
	return set
}

// Home is the typed view of the home page document.
type Home struct {
	ID       string
	Rev      string
	Sections []Section
}

// HomeFromDocument decodes the section list of a page document.
func HomeFromDocument(doc *store.Document) (*Home, error) {
	home := &Home{ID: doc.ID, Rev: doc.Rev}
	if err := doc.Decode(FieldSections, &home.Sections); err != nil {
		return nil, err
	}
	return home, nil
}

// Section returns the first section of type t, or nil.
func (h *Home) Section(t SectionType) *Section {
	for i := range h.Sections {
		if h.Sections[i].Type == t {
			return &h.Sections[i]
		}
	}
	return nil
}

// EnsureSection appends an empty section of type t when none exists.
// Returns true when a section was added.
//
// Pointers previously returned by Section may be invalidated by the append;
// look sections up again after ensuring them.
func (h *Home) EnsureSection(t SectionType) bool {
	if h.Section(t) != nil {
		return false
	}
	h.Sections = append(h.Sections, Section{
		Key:   NewKey(),
		Type:  t,
		Title: t.DefaultTitle(),
		Items: []Reference{},
	})
	return true
}

// RefSet returns the ids referenced by every section of type t. A missing
// section is empty.
func (h *Home) RefSet(t SectionType) map[string]bool {
	set := map[string]bool{}
	for i := range h.Sections {
		if h.Sections[i].Type != t {
			continue
		}
		for id := range h.Sections[i].RefSet() {
			set[id] = true
		}
	}
	return set
}

// Contains reports whether any section of type t references id.
func (h *Home) Contains(t SectionType, id string) bool {
	for i := range h.Sections {
		if h.Sections[i].Type == t && h.Sections[i].Contains(id) {
			return true
		}
	}
	return false
}

// Add references id from the first section of type t, creating that
// section when missing, unless some section of type t already does.
// Returns true when the page changed.
func (h *Home) Add(t SectionType, id string) bool {
	if h.Contains(t, id) {
		return false
	}
	h.EnsureSection(t)
	return h.Section(t).Add(id)
}

// Remove drops id from every section of type t.
// Returns true when the page changed.
func (h *Home) Remove(t SectionType, id string) bool {
	removed := false
	for i := range h.Sections {
		if h.Sections[i].Type == t && h.Sections[i].Remove(id) {
			removed = true
		}
	}
	return removed
}

// IsHomePage reports whether doc is the home page document.
func IsHomePage(doc *store.Document) bool {
	return doc.Type == TypePage && doc.String(FieldSlug) == HomeSlug
}

// NewHomeDocument returns an empty home page with both curated sections.
func NewHomeDocument() *store.Document {
	home := &Home{}
	home.EnsureSection(SectionCourses)
	home.EnsureSection(SectionWorkshops)
	return store.NewDocument(HomeID, TypePage, map[string]any{
		"title":       "Home",
		FieldSlug:     HomeSlug,
		FieldSections: home.Sections,
	})
}
