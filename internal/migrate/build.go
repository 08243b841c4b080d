package migrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// Image-bearing fields per document type. Only these are resolved; images
// nested anywhere else are carried over as plain values.
var (
	contentImageFields = []string{"image", "coverImage"}
	postImageFields    = []string{"coverImage", "image"}
	pageImageFields    = []string{"heroImage", "ogImage"}
)

// builder constructs typed documents from partitioned rows.
type builder struct {
	images *ImageResolver
	base   time.Time
	log    *logger.Logger
}

// setIf stores v unless it is a zero value.
func setIf(fields map[string]any, key string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case string:
		if t == "" {
			return
		}
	case []string:
		if len(t) == 0 {
			return
		}
	case *content.Image:
		if t == nil {
			return
		}
	case []*content.Image:
		if len(t) == 0 {
			return
		}
	case map[string]any:
		if len(t) == 0 {
			return
		}
	}
	fields[key] = v
}

// slugOf picks the row slug, falling back to its id and then to the key
// suffix.
func slugOf(row Row, rec map[string]any) string {
	if s := firstString(rec, "slug", "id"); s != "" {
		return s
	}
	return keySuffix(row)
}

func (b *builder) resolveImages(ctx context.Context, fields, rec map[string]any, names []string) {
	for _, name := range names {
		if v, ok := rec[name]; ok {
			setIf(fields, name, b.images.Resolve(ctx, v))
		}
	}
}

// buildContent builds an offering under the legacy content type.
func (b *builder) buildContent(ctx context.Context, row Row) (*store.Document, error) {
	rec := record(row.Value)
	if rec == nil {
		return nil, fmt.Errorf("row %s: value is not an object", row.Key)
	}
	slug := slugOf(row, rec)
	if slug == "" {
		return nil, fmt.Errorf("row %s: no slug or id", row.Key)
	}

	fields := map[string]any{}
	setIf(fields, "title", firstString(rec, "title", "name"))
	setIf(fields, content.FieldSlug, slug)

	if cat, ok := parseCategory(firstString(rec, "category", "type", "kind")); ok {
		fields[content.FieldCategory] = string(cat)
	} else {
		b.log.Warn("unknown category, leaving it unset", "key", row.Key, "category", rec["category"])
	}

	setIf(fields, "description", NormalizeRichContent(richValue(row.Value, "description")))
	setIf(fields, "details", NormalizeRichContent(richValue(row.Value, "details")))
	if price, ok := numberField(rec, "price"); ok {
		fields["price"] = price
	}
	if capacity, ok := numberField(rec, "capacity", "spots"); ok {
		fields["capacity"] = capacity
	}
	setIf(fields, "duration", firstString(rec, "duration"))
	setIf(fields, "level", firstString(rec, "level"))
	setIf(fields, "schedule", NormalizeValue(rec["schedule"]))
	setIf(fields, "tags", stringList(rec, "tags"))
	setIf(fields, "bookingUrl", firstString(rec, "bookingUrl", "booking_url", "link"))

	featured, _ := boolField(rec, content.FieldFeatured, "featured", "showInHome")
	fields[content.FieldFeatured] = featured
	if active, ok := boolField(rec, "active", "published"); ok {
		fields["active"] = active
	}
	if order, ok := numberField(rec, "order", "position"); ok {
		fields["order"] = order
	}

	b.resolveImages(ctx, fields, rec, contentImageFields)
	setIf(fields, "gallery", b.images.ResolveList(ctx, rec["gallery"]))

	return store.NewDocument(content.SluggedID(content.TypeLegacyContent, slug), content.TypeLegacyContent, fields), nil
}

// buildPost builds a blog post.
func (b *builder) buildPost(ctx context.Context, row Row) (*store.Document, error) {
	rec := record(row.Value)
	if rec == nil {
		return nil, fmt.Errorf("row %s: value is not an object", row.Key)
	}
	slug := slugOf(row, rec)
	if slug == "" {
		return nil, fmt.Errorf("row %s: no slug or id", row.Key)
	}

	fields := map[string]any{}
	setIf(fields, "title", firstString(rec, "title"))
	setIf(fields, content.FieldSlug, slug)
	setIf(fields, "author", firstString(rec, "author"))
	setIf(fields, "tags", stringList(rec, "tags"))
	setIf(fields, "publishedAt", parseDate(firstString(rec, "publishedAt", "date", "created"), b.base))

	body := NormalizeRichContent(richValue(row.Value, "body", "content"))
	setIf(fields, "body", body)

	excerpt := firstString(rec, "excerpt", "summary")
	if excerpt == "" {
		if m, ok := body.(map[string]any); ok {
			if h, ok := m["html"].(string); ok {
				excerpt = excerptFromHTML(h)
			}
		}
	}
	setIf(fields, "excerpt", excerpt)

	b.resolveImages(ctx, fields, rec, postImageFields)

	return store.NewDocument(content.SluggedID(content.TypePost, slug), content.TypePost, fields), nil
}

// buildPage builds a page. The legacy "home" page maps onto the home
// document id.
func (b *builder) buildPage(ctx context.Context, row Row) (*store.Document, error) {
	rec := record(row.Value)
	if rec == nil {
		return nil, fmt.Errorf("row %s: value is not an object", row.Key)
	}
	slug := slugOf(row, rec)
	if slug == "" {
		return nil, fmt.Errorf("row %s: no slug or id", row.Key)
	}

	fields := map[string]any{}
	setIf(fields, "title", firstString(rec, "title"))
	setIf(fields, content.FieldSlug, slug)
	setIf(fields, "body", NormalizeRichContent(richValue(row.Value, "body", "content")))

	if seo, ok := NormalizeValue(rec["seo"]).(map[string]any); ok {
		clean := map[string]any{}
		setIf(clean, "title", firstString(seo, "title"))
		setIf(clean, "description", firstString(seo, "description"))
		setIf(fields, "seo", clean)
	}
	if sections, ok := NormalizeValue(rec[content.FieldSections]).([]any); ok {
		fields[content.FieldSections] = sections
	}

	b.resolveImages(ctx, fields, rec, pageImageFields)

	return store.NewDocument(content.SluggedID(content.TypePage, slug), content.TypePage, fields), nil
}

// buildInstagramPosts builds one document per entry of the settings row's
// instagram list.
func (b *builder) buildInstagramPosts(ctx context.Context, settings map[string]any) []*store.Document {
	items, _ := settings["instagram"].([]any)

	var docs []*store.Document
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			if s, isString := item.(string); isString {
				rec = map[string]any{"url": s}
			} else {
				continue
			}
		}

		id := firstString(rec, "id", "shortcode")
		if id == "" {
			id = strconv.Itoa(i + 1)
		}

		fields := map[string]any{}
		setIf(fields, "caption", firstString(rec, "caption"))
		setIf(fields, "permalink", firstString(rec, "permalink", "link"))
		setIf(fields, "postedAt", parseDate(firstString(rec, "timestamp", "date"), b.base))
		if order, ok := numberField(rec, "order"); ok {
			fields["order"] = order
		} else {
			fields["order"] = float64(i)
		}

		img := firstPresent(rec, "image", "media_url", "url")
		setIf(fields, "image", b.images.Resolve(ctx, img))

		docs = append(docs, store.NewDocument(
			content.SluggedID(content.TypeInstagramPost, id), content.TypeInstagramPost, fields))
	}
	return docs
}

// buildSettings builds the site settings singleton. It references the
// generated instagram posts and carries the menu row.
func (b *builder) buildSettings(ctx context.Context, settings map[string]any, menu any, posts []*store.Document) *store.Document {
	fields := map[string]any{}
	setIf(fields, "siteName", firstString(settings, "siteName", "title", "name"))
	setIf(fields, "description", firstString(settings, "description", "tagline"))
	setIf(fields, "email", firstString(settings, "email"))
	setIf(fields, "phone", firstString(settings, "phone"))
	setIf(fields, "address", NormalizeValue(settings["address"]))
	setIf(fields, "social", NormalizeValue(settings["social"]))
	setIf(fields, "logo", b.images.Resolve(ctx, settings["logo"]))

	refs := make([]content.Reference, 0, len(posts))
	for i, p := range posts {
		ref := content.NewReference(p.ID)
		ref.Key = stableKey("post", i)
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		fields[content.FieldPosts] = refs
	}

	if items := menuItems(menu); len(items) > 0 {
		fields[content.FieldMenu] = items
	}

	return store.NewDocument(content.SiteSettingsID, content.TypeSiteSettings, fields)
}

// menuItems reads the legacy menu: a list of {label, href} under several
// spellings, or an object wrapping such a list in "items".
func menuItems(v any) []content.MenuItem {
	norm := NormalizeValue(v)
	if m, ok := norm.(map[string]any); ok {
		norm = m["items"]
	}
	list, _ := norm.([]any)

	var out []content.MenuItem
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		href := firstString(rec, "href", "url", "path")
		label := firstString(rec, "label", "title", "name")
		if href == "" || label == "" {
			continue
		}
		out = append(out, content.MenuItem{Key: stableKey("menu", len(out)), Label: label, Href: href})
	}
	return out
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stableKey returns an array item key that is identical across runs, so
// re-running a migration rewrites documents byte for byte.
func stableKey(prefix string, i int) string {
	return prefix + strconv.Itoa(i)
}
