package migrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// maxImageBytes caps a single download.
const maxImageBytes = 25 << 20

// ImageStats counts image resolutions.
type ImageStats struct {
	Uploaded int
	Reused   int
	Failed   int
	// Pending counts uncached images a dry run would have uploaded.
	Pending int
}

// ImageResolver turns legacy image values into image fields backed by
// uploaded assets.
type ImageResolver struct {
	client  store.Client
	cache   *AssetCache
	http    *http.Client
	baseURL *url.URL
	dryRun  bool
	log     *logger.Logger

	Stats ImageStats
}

// NewImageResolver returns a resolver uploading through client. baseURL
// resolves relative image paths and may be empty.
func NewImageResolver(client store.Client, cache *AssetCache, baseURL string, dryRun bool, log *logger.Logger) (*ImageResolver, error) {
	if log == nil {
		log = logger.Nop()
	}
	r := &ImageResolver{
		client: client,
		cache:  cache,
		http:   &http.Client{Timeout: 30 * time.Second},
		dryRun: dryRun,
		log:    log,
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid image base URL: %w", err)
		}
		r.baseURL = u
	}
	return r, nil
}

// Resolve accepts a bare URL string or an object with url (or src) and
// optional alt, caption and description. It returns nil when the value holds
// no usable image or the image could not be fetched.
func (r *ImageResolver) Resolve(ctx context.Context, v any) *content.Image {
	var src, alt, caption, description string
	switch t := NormalizeValue(v).(type) {
	case string:
		src = t
	case map[string]any:
		src = firstString(t, "url", "src")
		alt = firstString(t, "alt")
		caption = firstString(t, "caption")
		description = firstString(t, "description")
	default:
		return nil
	}

	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}
	abs := r.absolute(src)

	assetID, ok := r.cache.Get(abs)
	if ok {
		r.Stats.Reused++
		return content.NewImage(assetID, alt, caption, description)
	}

	if r.dryRun {
		r.Stats.Pending++
		r.log.Info("would upload image", "url", abs)
		return nil
	}

	assetID, err := r.upload(ctx, abs)
	if err != nil {
		r.Stats.Failed++
		r.log.Warn("image skipped", "url", abs, "error", err)
		return nil
	}
	r.Stats.Uploaded++
	return content.NewImage(assetID, alt, caption, description)
}

// ResolveList resolves every entry of a list, dropping failures.
func (r *ImageResolver) ResolveList(ctx context.Context, v any) []*content.Image {
	items, ok := NormalizeValue(v).([]any)
	if !ok {
		return nil
	}
	var out []*content.Image
	for _, item := range items {
		if img := r.Resolve(ctx, item); img != nil {
			img.Key = stableKey("image", len(out))
			out = append(out, img)
		}
	}
	return out
}

func (r *ImageResolver) absolute(src string) string {
	if r.baseURL == nil {
		return src
	}
	u, err := url.Parse(src)
	if err != nil || u.IsAbs() {
		return src
	}
	return r.baseURL.ResolveReference(u).String()
}

// upload fetches src, uploads it and records it in the cache.
func (r *ImageResolver) upload(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}

	asset, err := r.client.UploadAsset(ctx, store.AssetImage, data, filenameFromURL(src))
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	if err := r.cache.Put(src, asset.ID); err != nil {
		// The asset exists; a later run re-uploads it idempotently.
		r.log.Warn("failed to persist asset cache", "url", src, "error", err)
	}
	return asset.ID, nil
}

func filenameFromURL(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
