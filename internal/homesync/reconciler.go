package homesync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/store"
)

// reconciler implements the Reconciler interface.
type reconciler struct {
	client store.Client
	log    *logger.Logger
}

// New creates a new Reconciler on top of client.
//
// If log is nil, a no-op logger is used.
//
// Example:
//
//	r := homesync.New(database, log)
//	if err := r.SyncContentToHome(ctx, snap); err != nil {
//	    log.Warn("home sync failed", "error", err)
//	}
func New(client store.Client, log *logger.Logger) Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &reconciler{
		client: client,
		log:    log.Named("homesync"),
	}
}

// SyncContentToHome implements Reconciler.SyncContentToHome.
func (r *reconciler) SyncContentToHome(ctx context.Context, snap content.Snapshot) error {
	id := content.PublishedID(snap.ID)
	if !snap.Category.Valid() {
		return fmt.Errorf("sync %s: unknown category %q", id, snap.Category)
	}

	doc, err := r.client.Get(ctx, content.HomeID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debug("home page missing, nothing to reconcile", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch home page: %w", err)
	}

	home, err := content.HomeFromDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to decode home page: %w", err)
	}

	target := content.SectionFor(snap.Category)
	other := target.Other()

	home.EnsureSection(target)
	home.EnsureSection(other)

	if snap.Featured {
		home.Add(target, id)
	} else {
		home.Remove(target, id)
	}
	home.Remove(other, id)

	// Always written, even when nothing changed.
	err = store.Patch(r.client, doc.ID).
		Set(map[string]any{content.FieldSections: home.Sections}).
		IfRevision(doc.Rev).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("failed to update home sections for %s: %w", id, err)
	}

	r.log.Info("synced content to home",
		"id", id,
		"category", snap.Category,
		"featured", snap.Featured,
		"section", target)
	return nil
}

// SyncHomeToContent implements Reconciler.SyncHomeToContent.
func (r *reconciler) SyncHomeToContent(ctx context.Context, home *content.Home) (int, error) {
	members := map[content.SectionType]map[string]bool{
		content.SectionCourses:   home.RefSet(content.SectionCourses),
		content.SectionWorkshops: home.RefSet(content.SectionWorkshops),
	}

	referenced := make(map[string]bool)
	for _, set := range members {
		for id := range set {
			referenced[id] = true
		}
	}

	docs, err := r.client.Fetch(ctx, store.Query{Types: content.CategoryTypes()})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch offerings: %w", err)
	}

	tx := store.NewTransaction(r.client)
	var patched []string
	for _, doc := range docs {
		cat := content.Category(doc.Type)
		should := members[content.SectionFor(cat)][content.PublishedID(doc.ID)]
		if doc.Bool(content.FieldFeatured) == should {
			continue
		}
		tx.Patch(doc.ID, store.PatchOps{Set: map[string]any{content.FieldFeatured: should}})
		patched = append(patched, doc.ID)
	}

	if tx.Len() == 0 {
		r.log.Debug("home already consistent", "referenced", len(referenced), "scanned", len(docs))
		return 0, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit %d featured flag patches: %w", tx.Len(), err)
	}

	sort.Strings(patched)
	r.log.Info("synced home to content",
		"referenced", len(referenced),
		"scanned", len(docs),
		"patched", patched)
	return len(patched), nil
}
