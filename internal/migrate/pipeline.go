package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// Options contains configuration for a migration run.
type Options struct {
	StagingPath  string // Required: where constructed documents are written for review
	ReviewPath   string // Optional Markdown review file
	ImageBaseURL string // Resolves relative image URLs
	DryRun       bool   // Compute and stage everything, write nothing
	// ExportedAt anchors relative dates in the export ("2 days ago").
	// Defaults to the current time.
	ExportedAt time.Time
	// Progress is called after each upsert attempt.
	Progress func(done, total int)
}

// Result contains statistics about the migration.
type Result struct {
	RowsRead  int
	Skipped   int
	Built     map[string]int // documents constructed per type
	Upserted  int
	Failed    int
	Images    ImageStats
	Documents []*store.Document
	Errors    []string
}

// Run performs a migration of rows into client.
//
// Per-item failures (an unreadable row, an image that cannot be fetched, an
// upsert the store rejects) are logged and collected in Result.Errors;
// processing continues. Errors writing the staging file abort the run
// before any document is written.
func Run(ctx context.Context, client store.Client, rows []Row, cache *AssetCache, opts Options, log *logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("migrate")
	if opts.StagingPath == "" {
		return nil, fmt.Errorf("staging path is required")
	}
	if opts.ExportedAt.IsZero() {
		opts.ExportedAt = time.Now()
	}

	images, err := NewImageResolver(client, cache, opts.ImageBaseURL, opts.DryRun, log)
	if err != nil {
		return nil, err
	}
	b := &builder{images: images, base: opts.ExportedAt, log: log}

	result := &Result{RowsRead: len(rows), Built: map[string]int{}}
	buckets := Partition(rows)
	result.Skipped = len(buckets.Skipped)
	for _, key := range buckets.Skipped {
		log.Debug("skipping unrecognized row", "key", key)
	}

	var docs []*store.Document
	seen := map[string]bool{}
	fail := func(err error) {
		log.Warn("row skipped", "error", err)
		result.Errors = append(result.Errors, err.Error())
	}
	// Two rows sanitizing to the same id would overwrite each other; the
	// first one wins.
	add := func(doc *store.Document) {
		if seen[doc.ID] {
			fail(fmt.Errorf("duplicate document id %s after slug sanitization", doc.ID))
			return
		}
		seen[doc.ID] = true
		docs = append(docs, doc)
		result.Built[doc.Type]++
	}

	steps := []struct {
		rows  []Row
		build func(context.Context, Row) (*store.Document, error)
	}{
		{buckets.Content, b.buildContent},
		{buckets.Posts, b.buildPost},
		{buckets.Pages, b.buildPage},
	}
	for _, step := range steps {
		for _, row := range step.rows {
			doc, err := step.build(ctx, row)
			if err != nil {
				fail(err)
				continue
			}
			add(doc)
		}
	}

	// Instagram posts come first so the settings document can reference them.
	settingsRow, hasSettings := buckets.Other[KeySettings]
	menuRow, hasMenu := buckets.Other[KeyMenu]
	if hasSettings || hasMenu {
		settings := record(settingsRow.Value)
		if settings == nil {
			settings = map[string]any{}
		}
		posts := b.buildInstagramPosts(ctx, settings)
		for _, p := range posts {
			add(p)
		}
		add(b.buildSettings(ctx, settings, menuRow.Value, posts))
	}

	result.Documents = docs
	result.Images = images.Stats

	if err := WriteStaging(opts.StagingPath, docs); err != nil {
		return result, fmt.Errorf("failed to write staging file: %w", err)
	}
	log.Info("staging file written", "path", opts.StagingPath, "documents", len(docs))

	if opts.ReviewPath != "" {
		if err := WriteReview(opts.ReviewPath, docs); err != nil {
			return result, fmt.Errorf("failed to write review file: %w", err)
		}
	}

	if opts.DryRun {
		for _, doc := range docs {
			log.Info("would upsert", "id", doc.ID, "type", doc.Type)
		}
		return result, nil
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := client.CreateOrReplace(ctx, doc); err != nil {
			result.Failed++
			msg := fmt.Sprintf("failed to upsert %s: %v", doc.ID, err)
			result.Errors = append(result.Errors, msg)
			log.Warn("upsert failed", "id", doc.ID, "error", err)
		} else {
			result.Upserted++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(docs))
		}
	}

	log.Info("migration complete",
		"rows", result.RowsRead,
		"upserted", result.Upserted,
		"failed", result.Failed,
		"images_uploaded", result.Images.Uploaded,
		"images_reused", result.Images.Reused)
	return result, nil
}

// CountByCategory tallies built offerings per category, for reporting.
func CountByCategory(docs []*store.Document) map[content.Category]int {
	out := map[content.Category]int{}
	for _, doc := range docs {
		if doc.Type != content.TypeLegacyContent {
			continue
		}
		out[content.Category(doc.String(content.FieldCategory))]++
	}
	return out
}
