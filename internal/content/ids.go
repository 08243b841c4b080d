package content

import (
	"strings"

	"github.com/claystudio/contentsync/internal/store"
)

// PublishedID strips the draft prefix. Draft and published variants of a
// document share the same logical identity.
func PublishedID(id string) string {
	return strings.TrimPrefix(id, store.DraftPrefix)
}

// DraftID returns the draft variant of id.
func DraftID(id string) string {
	return store.DraftPrefix + PublishedID(id)
}

// IsDraftID reports whether id names a draft.
func IsDraftID(id string) bool {
	return strings.HasPrefix(id, store.DraftPrefix)
}

// SameDocument reports whether two ids name the same logical document.
func SameDocument(a, b string) bool {
	return PublishedID(a) == PublishedID(b)
}

// Sanitize replaces every rune outside [A-Za-z0-9] with '-'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// SluggedID derives the deterministic id "<prefix>-<sanitized>" so that
// re-running a migration step upserts instead of duplicating.
//
//	SluggedID("content", "my-class") == "content-my-class"
func SluggedID(prefix, slugOrID string) string {
	return prefix + "-" + Sanitize(slugOrID)
}
