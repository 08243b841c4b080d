package fixers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/claystudio/contentsync/internal/content"
)

// PageSpec names a singleton page that must exist.
type PageSpec struct {
	Slug  string `toml:"slug" yaml:"slug"`
	Title string `toml:"title" yaml:"title"`
}

// SingletonSpec identifies the singleton document type to deduplicate.
type SingletonSpec struct {
	Type string `toml:"type" yaml:"type"`
	ID   string `toml:"id" yaml:"id"`
}

// Tables are the fixed lookup tables the fixers work from.
type Tables struct {
	// Slugs maps legacy page slugs to their new value.
	Slugs     map[string]string `toml:"slugs" yaml:"slugs"`
	Pages     []PageSpec        `toml:"pages" yaml:"pages"`
	Singleton SingletonSpec     `toml:"singleton" yaml:"singleton"`
}

// DefaultTables returns the built-in tables.
func DefaultTables() *Tables {
	return &Tables{
		Slugs: map[string]string{
			"clases":            "classes",
			"talleres":          "workshops",
			"sesiones-privadas": "private-sessions",
			"tarjetas-regalo":   "gift-cards",
			"nosotros":          "about",
			"contacto":          "contact",
		},
		Pages: []PageSpec{
			{Slug: content.HomeSlug, Title: "Home"},
			{Slug: "about", Title: "About"},
			{Slug: "contact", Title: "Contact"},
			{Slug: "classes", Title: "Classes"},
			{Slug: "workshops", Title: "Workshops"},
			{Slug: "gift-cards", Title: "Gift cards"},
		},
		Singleton: SingletonSpec{Type: content.TypeSiteSettings, ID: content.SiteSettingsID},
	}
}

// LoadTables reads tables from a .toml, .yaml or .yml file. Sections absent
// from the file keep their built-in values.
func LoadTables(path string) (*Tables, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}

	var loaded Tables
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &loaded); err != nil {
			return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported table format %q (use .toml or .yaml)", filepath.Ext(path))
	}

	tables := DefaultTables()
	if loaded.Slugs != nil {
		tables.Slugs = loaded.Slugs
	}
	if loaded.Pages != nil {
		tables.Pages = loaded.Pages
	}
	if loaded.Singleton.Type != "" {
		tables.Singleton.Type = loaded.Singleton.Type
	}
	if loaded.Singleton.ID != "" {
		tables.Singleton.ID = loaded.Singleton.ID
	}
	return tables, nil
}

// ValidateSlugs rejects tables that would need more than one pass: a new
// slug that is itself remapped, or an empty entry.
func (t *Tables) ValidateSlugs() error {
	olds := make([]string, 0, len(t.Slugs))
	for old := range t.Slugs {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	for _, old := range olds {
		newSlug := t.Slugs[old]
		if old == "" || newSlug == "" {
			return fmt.Errorf("slug table has an empty entry (%q -> %q)", old, newSlug)
		}
		if old == newSlug {
			return fmt.Errorf("slug table maps %q to itself", old)
		}
		if _, chained := t.Slugs[newSlug]; chained {
			return fmt.Errorf("slug table chains %q -> %q -> %q", old, newSlug, t.Slugs[newSlug])
		}
	}
	return nil
}
