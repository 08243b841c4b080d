package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claystudio/contentsync/internal/store"
)

func TestIDs(t *testing.T) {
	assert.Equal(t, "workshop-raku", PublishedID("drafts.workshop-raku"))
	assert.Equal(t, "workshop-raku", PublishedID("workshop-raku"))
	assert.Equal(t, "drafts.workshop-raku", DraftID("drafts.workshop-raku"))
	assert.True(t, IsDraftID("drafts.x"))
	assert.True(t, SameDocument("drafts.x", "x"))
	assert.False(t, SameDocument("x", "y"))
}

func TestSluggedID(t *testing.T) {
	tests := []struct {
		prefix, in, want string
	}{
		{"content", "my-class", "content-my-class"},
		{"post", "Hello, World!", "post-Hello--World-"},
		{"page", "über/uns", "page--ber-uns"},
		{"instagramPost", "123_456", "instagramPost-123-456"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SluggedID(tt.prefix, tt.in), tt.in)
	}
}

func TestSectionFor(t *testing.T) {
	assert.Equal(t, SectionWorkshops, SectionFor(CategoryWorkshop))
	for _, c := range []Category{CategoryClass, CategoryPrivate, CategoryGiftCard} {
		assert.Equal(t, SectionCourses, SectionFor(c), c)
	}
	assert.Equal(t, SectionCourses, SectionWorkshops.Other())
	assert.Equal(t, "Classes", SectionCourses.DefaultTitle())
}

func TestSnapshotFromDocument(t *testing.T) {
	snap, err := SnapshotFromDocument(store.NewDocument("drafts.workshop-raku", "workshop", map[string]any{
		FieldFeatured: true,
	}))
	require.NoError(t, err)
	assert.Equal(t, Snapshot{ID: "workshop-raku", Category: CategoryWorkshop, Featured: true}, snap)

	legacy, err := SnapshotFromDocument(store.NewDocument("content-wheel", TypeLegacyContent, map[string]any{
		FieldCategory: "class",
	}))
	require.NoError(t, err)
	assert.Equal(t, CategoryClass, legacy.Category)

	_, err = SnapshotFromDocument(store.NewDocument("post-x", TypePost, nil))
	assert.Error(t, err)
}

func TestSectionPreservesUnknownFields(t *testing.T) {
	raw := `{"_key":"k1","type":"hero","title":"Welcome","items":null,"image":{"asset":{"_ref":"image-1"}},"cta":"Book now"}`

	var s Section
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.Equal(t, SectionType("hero"), s.Type)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "Book now", back["cta"])
	assert.Equal(t, map[string]any{"asset": map[string]any{"_ref": "image-1"}}, back["image"])
	assert.Equal(t, []any{}, back["items"])
}

func TestSectionAddRemove(t *testing.T) {
	var s Section
	assert.True(t, s.Add("drafts.class-wheel"))
	assert.False(t, s.Add("class-wheel"))
	assert.Len(t, s.Items, 1)
	assert.Equal(t, "class-wheel", s.Items[0].Ref)

	s.Items = append(s.Items, Reference{Ref: "drafts.class-wheel"}, Reference{Ref: "class-other"})
	assert.True(t, s.Remove("class-wheel"))
	assert.Len(t, s.Items, 1)
	assert.False(t, s.Remove("class-wheel"))
}

func TestHomeFromDocument(t *testing.T) {
	doc := NewHomeDocument()
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var stored store.Document
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.True(t, IsHomePage(&stored))

	home, err := HomeFromDocument(&stored)
	require.NoError(t, err)
	require.Len(t, home.Sections, 2)
	assert.NotNil(t, home.Section(SectionCourses))
	assert.NotNil(t, home.Section(SectionWorkshops))
	assert.False(t, home.EnsureSection(SectionCourses))
	assert.Empty(t, home.RefSet(SectionWorkshops))
}

func TestHomeRefSetMissingSection(t *testing.T) {
	home := &Home{}
	assert.Nil(t, home.Section(SectionCourses))
	assert.Empty(t, home.RefSet(SectionCourses))
}

func TestSectionRejectsMalformedFields(t *testing.T) {
	for _, raw := range []string{
		`{"_key":"k1","type":7,"items":[]}`,
		`{"_key":["k1"],"type":"courses"}`,
		`{"_key":"k1","type":"courses","title":{"en":"Classes"}}`,
	} {
		var s Section
		assert.Error(t, json.Unmarshal([]byte(raw), &s), raw)
	}

	doc := store.NewDocument(HomeID, TypePage, map[string]any{
		FieldSlug:     HomeSlug,
		FieldSections: []any{map[string]any{"_key": "k1", "type": 7}},
	})
	_, err := HomeFromDocument(doc)
	assert.Error(t, err)
}

func TestHomeSpansRepeatedSections(t *testing.T) {
	home := &Home{Sections: []Section{
		{Type: SectionCourses, Items: []Reference{{Ref: "class-a"}}},
		{Type: "hero"},
		{Type: SectionCourses, Items: []Reference{{Ref: "class-b"}, {Ref: "drafts.class-a"}}},
	}}

	assert.Equal(t, map[string]bool{"class-a": true, "class-b": true}, home.RefSet(SectionCourses))
	assert.True(t, home.Contains(SectionCourses, "class-b"))
	assert.False(t, home.Add(SectionCourses, "class-b"))

	assert.True(t, home.Remove(SectionCourses, "class-a"))
	assert.Empty(t, home.Sections[0].Items)
	assert.Len(t, home.Sections[2].Items, 1)
	assert.False(t, home.Remove(SectionCourses, "class-a"))

	assert.True(t, home.Add(SectionWorkshops, "workshop-raku"))
	require.NotNil(t, home.Section(SectionWorkshops))
	assert.True(t, home.Section(SectionWorkshops).Contains("workshop-raku"))
}
