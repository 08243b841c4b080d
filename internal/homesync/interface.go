// Package homesync keeps the home page's curated sections consistent with
// the featuredInHome flag of every offering.
package homesync

import (
	"context"

	"github.com/claystudio/contentsync/internal/content"
)

// Reconciler restores the featured/section-membership invariant from
// either side.
//
// For every offering with featuredInHome=true exactly one curated section,
// chosen by its category, references it. Offerings that are not featured
// are referenced by neither section. The two directions may disagree
// transiently; the next pass that touches either side converges them.
//
// Both entry points are idempotent and never retry. Errors propagate to the
// caller, which decides whether they are fatal.
type Reconciler interface {
	// SyncContentToHome updates the home sections after an offering was
	// published.
	//
	// The snapshot id is draft-normalized. A missing home page is a silent
	// no-op. Otherwise the section list is written with a single patch
	// conditional on the revision that was read, so a concurrent home edit
	// surfaces as store.ErrRevisionConflict instead of being overwritten.
	//
	// Example:
	//   err := r.SyncContentToHome(ctx, content.Snapshot{
	//       ID: "workshop-raku", Category: content.CategoryWorkshop, Featured: true,
	//   })
	SyncContentToHome(ctx context.Context, snap content.Snapshot) error

	// SyncHomeToContent updates featured flags after the home page was
	// published.
	//
	// Every offering, drafts included, is patched to match membership of its
	// category's section. All patches are committed in one transaction;
	// nothing is written when every flag already matches.
	//
	// Returns the number of documents patched.
	//
	// Example:
	//   n, err := r.SyncHomeToContent(ctx, home)
	SyncHomeToContent(ctx context.Context, home *content.Home) (int, error)
}
