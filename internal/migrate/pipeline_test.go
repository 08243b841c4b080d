package migrate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/store"
)

// setupTestDB creates a temporary store for testing.
func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	database, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return database
}

// imageServer serves a fake PNG for every path except /missing.png and
// counts the requests it answered.
func imageServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func sampleRows(imageBase string) []Row {
	return []Row{
		{Key: "content:my-class", Value: map[string]any{
			"slug":        "my-class",
			"title":       "Wheel throwing",
			"category":    "Classes",
			"price":       "€80",
			"featured":    "true",
			"description": map[string]any{"0": "<", "1": "p", "2": ">", "3": "h", "4": "i"},
			"image":       imageBase + "/kiln.png",
		}},
		{Key: "content:raku", Value: map[string]any{
			"slug":     "raku",
			"title":    "Raku weekend",
			"category": "workshop",
			"image":    map[string]any{"url": imageBase + "/kiln.png", "alt": "Kiln"},
			"gallery":  []any{imageBase + "/a.png", imageBase + "/missing.png"},
		}},
		{Key: "post:first-firing", Value: map[string]any{
			"slug":  "first-firing",
			"title": "Our first firing",
			"body":  "<p>It went <b>well</b>.</p><script>x()</script>",
			"date":  "2023-04-01",
		}},
		{Key: "page:about", Value: map[string]any{
			"slug":      "about",
			"title":     "About",
			"content":   "<h1>Studio</h1>",
			"heroImage": "/hero.png",
		}},
		{Key: "settings", Value: map[string]any{
			"siteName": "Clay Studio",
			"instagram": []any{
				map[string]any{"id": "C1", "caption": "Glaze day", "image": imageBase + "/ig1.png"},
				map[string]any{"id": "C2", "caption": "Kiln", "image": imageBase + "/kiln.png"},
			},
		}},
		{Key: "menu", Value: []any{
			map[string]any{"label": "Classes", "href": "/clases"},
			map[string]any{"label": "", "href": "/broken"},
		}},
		{Key: "analytics", Value: "ignored"},
	}
}

func runOnce(t *testing.T, db *store.DB, rows []Row, cachePath, baseURL string, dryRun bool) *Result {
	t.Helper()
	cache, err := LoadAssetCache(cachePath)
	if err != nil {
		t.Fatalf("LoadAssetCache failed: %v", err)
	}
	result, err := Run(context.Background(), db, rows, cache, Options{
		StagingPath:  filepath.Join(filepath.Dir(cachePath), "staging.json"),
		ReviewPath:   filepath.Join(filepath.Dir(cachePath), "review.md"),
		ImageBaseURL: baseURL,
		DryRun:       dryRun,
		ExportedAt:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func TestRunBuildsTypedDocuments(t *testing.T) {
	db := setupTestDB(t)
	srv, _ := imageServer(t)
	dir := t.TempDir()

	result := runOnce(t, db, sampleRows(srv.URL), filepath.Join(dir, "cache.json"), srv.URL, false)

	if result.RowsRead != 7 || result.Skipped != 1 {
		t.Errorf("expected 7 rows with 1 skipped, got %d/%d", result.RowsRead, result.Skipped)
	}
	if result.Failed != 0 {
		t.Errorf("expected no failed upserts, got %v", result.Errors)
	}
	wantBuilt := map[string]int{"content": 2, "post": 1, "page": 1, "instagramPost": 2, "siteSettings": 1}
	for typ, n := range wantBuilt {
		if result.Built[typ] != n {
			t.Errorf("expected %d %s documents, got %d", n, typ, result.Built[typ])
		}
	}

	ctx := context.Background()
	class, err := db.Get(ctx, "content-my-class")
	if err != nil {
		t.Fatalf("expected content-my-class: %v", err)
	}
	if class.String(content.FieldCategory) != "class" {
		t.Errorf("expected category class, got %q", class.String(content.FieldCategory))
	}
	if !class.Bool(content.FieldFeatured) {
		t.Error("expected featuredInHome from legacy featured flag")
	}
	if class.Fields["price"] != 80.0 {
		t.Errorf("expected price 80, got %v", class.Fields["price"])
	}
	// Short numeric-keyed values are reassembled without the html wrapper.
	if class.Fields["description"] != "<p>hi" {
		t.Errorf("expected reassembled description, got %#v", class.Fields["description"])
	}

	post, err := db.Get(ctx, "post-first-firing")
	if err != nil {
		t.Fatalf("expected post-first-firing: %v", err)
	}
	if post.String("excerpt") != "It went well ." {
		t.Errorf("unexpected excerpt %q", post.String("excerpt"))
	}
	if post.String("publishedAt") != "2023-04-01T00:00:00Z" {
		t.Errorf("unexpected publishedAt %q", post.String("publishedAt"))
	}

	page, _ := db.Get(ctx, "page-about")
	var hero content.Image
	if err := page.Decode("heroImage", &hero); err != nil || hero.Asset.Ref == "" {
		t.Errorf("expected relative hero image to resolve against base URL, got %+v (%v)", hero, err)
	}

	settings, err := db.Get(ctx, content.SiteSettingsID)
	if err != nil {
		t.Fatalf("expected settings: %v", err)
	}
	var refs []content.Reference
	if err := settings.Decode(content.FieldPosts, &refs); err != nil {
		t.Fatalf("decode refs: %v", err)
	}
	if len(refs) != 2 || refs[0].Ref != "instagramPost-C1" || refs[1].Ref != "instagramPost-C2" {
		t.Errorf("unexpected instagram references %+v", refs)
	}
	var menu []content.MenuItem
	_ = settings.Decode(content.FieldMenu, &menu)
	if len(menu) != 1 || menu[0].Href != "/clases" {
		t.Errorf("expected one valid menu item, got %+v", menu)
	}

	if _, err := os.Stat(filepath.Join(dir, "review.md")); err != nil {
		t.Errorf("expected review file: %v", err)
	}
}

func TestRunRichContentThreshold(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()

	short := strings.Repeat("x", 50)
	long := "<p>" + strings.Repeat("y", 48) + "</p>"
	rows := []Row{
		{Key: "content:short", Value: map[string]any{
			"slug":        "short",
			"category":    "class",
			"description": numericObject(short),
			"details":     numericObject("<b>hi</b>"),
		}},
		{Key: "content:long", Value: map[string]any{
			"slug":        "long",
			"category":    "class",
			"description": numericObject(long),
		}},
		{Key: "post:numeric-body", Value: map[string]any{
			"slug": "numeric-body",
			"body": numericObject(long),
		}},
		{Key: "page:numeric-content", Value: map[string]any{
			"slug":    "numeric-content",
			"content": numericObject("<h1>Hi</h1>"),
		}},
	}
	result := runOnce(t, db, rows, filepath.Join(dir, "cache.json"), "", false)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	ctx := context.Background()
	doc, err := db.Get(ctx, "content-short")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Fields["description"] != short {
		t.Errorf("50 keys: expected bare string, got %#v", doc.Fields["description"])
	}
	if doc.Fields["details"] != "<b>hi</b>" {
		t.Errorf("expected bare details string, got %#v", doc.Fields["details"])
	}

	doc, err = db.Get(ctx, "content-long")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := doc.Fields["description"].(map[string]any); !ok || got["html"] != long {
		t.Errorf("51 keys: expected html wrapper, got %#v", doc.Fields["description"])
	}

	doc, err = db.Get(ctx, "post-numeric-body")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := doc.Fields["body"].(map[string]any); !ok || got["html"] != long {
		t.Errorf("expected wrapped post body, got %#v", doc.Fields["body"])
	}

	doc, err = db.Get(ctx, "page-numeric-content")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Fields["body"] != "<h1>Hi</h1>" {
		t.Errorf("expected bare page body, got %#v", doc.Fields["body"])
	}
}

func TestRunUploadsSharedImageOnce(t *testing.T) {
	db := setupTestDB(t)
	srv, hits := imageServer(t)
	dir := t.TempDir()

	result := runOnce(t, db, sampleRows(srv.URL), filepath.Join(dir, "cache.json"), srv.URL, false)

	// kiln.png is referenced three times, a.png, ig1.png and hero.png once,
	// missing.png fails.
	if result.Images.Uploaded != 4 {
		t.Errorf("expected 4 uploads, got %d", result.Images.Uploaded)
	}
	if result.Images.Reused != 2 {
		t.Errorf("expected 2 cache hits, got %d", result.Images.Reused)
	}
	if result.Images.Failed != 1 {
		t.Errorf("expected 1 failed image, got %d", result.Images.Failed)
	}
	if got := atomic.LoadInt32(hits); got != 5 {
		t.Errorf("expected 5 HTTP fetches, got %d", got)
	}

	ctx := context.Background()
	class, _ := db.Get(ctx, "content-my-class")
	raku, _ := db.Get(ctx, "content-raku")
	var a, b content.Image
	_ = class.Decode("image", &a)
	_ = raku.Decode("image", &b)
	if a.Asset.Ref == "" || a.Asset.Ref != b.Asset.Ref {
		t.Errorf("expected identical asset refs, got %q and %q", a.Asset.Ref, b.Asset.Ref)
	}
	if b.Alt != "Kiln" {
		t.Errorf("expected alt to be preserved, got %q", b.Alt)
	}

	var gallery []content.Image
	_ = raku.Decode("gallery", &gallery)
	if len(gallery) != 1 {
		t.Errorf("expected failed gallery image to be dropped, got %d", len(gallery))
	}

	stats, _ := db.Stats(ctx)
	if stats.Assets != 4 {
		t.Errorf("expected 4 stored assets, got %d", stats.Assets)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	srv, hits := imageServer(t)
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	rows := sampleRows(srv.URL)

	first := runOnce(t, db, rows, cachePath, srv.URL, false)
	statsBefore, _ := db.Stats(context.Background())
	fetchesBefore := atomic.LoadInt32(hits)

	second := runOnce(t, db, rows, cachePath, srv.URL, false)
	statsAfter, _ := db.Stats(context.Background())

	if statsBefore.Total() != statsAfter.Total() {
		t.Errorf("expected same document count, got %d then %d", statsBefore.Total(), statsAfter.Total())
	}
	if second.Images.Uploaded != 0 {
		t.Errorf("expected no uploads on second run, got %d", second.Images.Uploaded)
	}
	// Only the missing image is retried.
	if got := atomic.LoadInt32(hits) - fetchesBefore; got != 1 {
		t.Errorf("expected 1 fetch on second run, got %d", got)
	}

	ids := func(r *Result) []string {
		var out []string
		for _, d := range r.Documents {
			out = append(out, d.ID)
		}
		return out
	}
	if strings.Join(ids(first), ",") != strings.Join(ids(second), ",") {
		t.Errorf("expected identical ids, got %v and %v", ids(first), ids(second))
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	srv, hits := imageServer(t)
	dir := t.TempDir()

	result := runOnce(t, db, sampleRows(srv.URL), filepath.Join(dir, "cache.json"), srv.URL, true)

	stats, _ := db.Stats(context.Background())
	if stats.Total() != 0 || stats.Assets != 0 {
		t.Errorf("expected empty store after dry run, got %+v", stats)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("expected no image fetches during dry run")
	}
	if result.Images.Pending == 0 {
		t.Error("expected pending images to be counted")
	}

	staged, err := ReadStaging(filepath.Join(dir, "staging.json"))
	if err != nil {
		t.Fatalf("ReadStaging failed: %v", err)
	}
	if len(staged) != len(result.Documents) {
		t.Errorf("expected %d staged documents, got %d", len(result.Documents), len(staged))
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.json")); !os.IsNotExist(err) {
		t.Error("expected cache file not to be written")
	}
}

func TestRunContinuesAfterBadRows(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	rows := []Row{
		{Key: "content:", Value: map[string]any{}},
		{Key: "content:ok", Value: map[string]any{"title": "Fine", "category": "giftcard"}},
		{Key: "post:broken", Value: "not an object"},
		{Key: "content:x-ok", Value: map[string]any{"slug": "ok", "title": "Duplicate"}},
	}

	result := runOnce(t, db, rows, filepath.Join(dir, "cache.json"), "", false)

	if result.Upserted != 1 {
		t.Errorf("expected 1 upserted document, got %d", result.Upserted)
	}
	if len(result.Errors) != 3 {
		t.Errorf("expected 3 errors, got %v", result.Errors)
	}
	doc, err := db.Get(context.Background(), "content-ok")
	if err != nil {
		t.Fatalf("expected content-ok: %v", err)
	}
	if doc.String("category") != "giftCard" {
		t.Errorf("expected giftCard category, got %q", doc.String("category"))
	}
}

func TestAssetCachePersistsEveryPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	cache, err := LoadAssetCache(path)
	if err != nil {
		t.Fatalf("LoadAssetCache failed: %v", err)
	}
	if err := cache.Put("https://x/a.png", "image-1-png"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected cache file after Put: %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("invalid cache file: %v", err)
	}
	if onDisk["https://x/a.png"] != "image-1-png" {
		t.Errorf("unexpected cache contents %v", onDisk)
	}

	reloaded, _ := LoadAssetCache(path)
	if id, ok := reloaded.Get("https://x/a.png"); !ok || id != "image-1-png" {
		t.Error("expected reloaded cache to hold the entry")
	}
}

func TestLoadRowsFormats(t *testing.T) {
	dir := t.TempDir()
	arrayPath := filepath.Join(dir, "rows.json")
	linesPath := filepath.Join(dir, "rows.jsonl")

	if err := os.WriteFile(arrayPath, []byte(`[{"key":"post:a","value":{"title":"A"}},{"key":"menu","value":[]}]`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(linesPath, []byte("{\"key\":\"post:a\",\"value\":1}\n\n{\"key\":\"page:b\",\"value\":2}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{arrayPath, linesPath} {
		rows, err := LoadRows(p)
		if err != nil {
			t.Fatalf("LoadRows(%s) failed: %v", p, err)
		}
		if len(rows) != 2 {
			t.Errorf("%s: expected 2 rows, got %d", p, len(rows))
		}
	}

	if err := os.WriteFile(linesPath, []byte("{\"key\":\"a\"}\n{broken\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRows(linesPath); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}

func TestPartition(t *testing.T) {
	b := Partition([]Row{
		{Key: "post:b"}, {Key: "post:a"}, {Key: "content:x"}, {Key: "page:home"},
		{Key: "settings"}, {Key: "menu"}, {Key: "misc"},
	})
	if len(b.Content) != 1 || len(b.Pages) != 1 || len(b.Other) != 2 {
		t.Errorf("unexpected buckets %+v", b)
	}
	if len(b.Posts) != 2 || b.Posts[0].Key != "post:a" {
		t.Errorf("expected sorted posts, got %+v", b.Posts)
	}
	if len(b.Skipped) != 1 || b.Skipped[0] != "misc" {
		t.Errorf("expected misc to be skipped, got %v", b.Skipped)
	}
}

func TestParseDate(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if got := parseDate("2023-04-01T10:00:00+02:00", base); got != "2023-04-01T08:00:00Z" {
		t.Errorf("rfc3339: got %q", got)
	}
	if got := parseDate("unknown", base); got != "" {
		t.Errorf("expected empty for garbage, got %q", got)
	}
	if got := parseDate("yesterday", base); !strings.HasPrefix(got, "2024-01-14") {
		t.Errorf("expected relative date anchored at export time, got %q", got)
	}
}
