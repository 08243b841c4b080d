package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/claystudio/contentsync/internal/store"
)

// WriteStaging writes every constructed document to path as an indented
// JSON array. The write is atomic.
func WriteStaging(path string, docs []*store.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal staging documents: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ReadStaging loads a staging file written by WriteStaging.
func ReadStaging(path string) ([]*store.Document, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging file: %w", err)
	}
	var docs []*store.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("invalid staging file %s: %w", path, err)
	}
	return docs, nil
}

// richFields are rendered as Markdown in the review file.
var richFields = []string{"description", "details", "body"}

// WriteReview renders a Markdown summary of the documents for a human to
// skim before the upsert step.
func WriteReview(path string, docs []*store.Document) error {
	var b strings.Builder
	b.WriteString("# Migration review\n\n")
	fmt.Fprintf(&b, "%d documents\n", len(docs))

	for _, doc := range docs {
		title := doc.String("title")
		if title == "" {
			title = doc.ID
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		fmt.Fprintf(&b, "- id: `%s`\n- type: `%s`\n", doc.ID, doc.Type)
		if slug := doc.String("slug"); slug != "" {
			fmt.Fprintf(&b, "- slug: `%s`\n", slug)
		}
		if cat := doc.String("category"); cat != "" {
			fmt.Fprintf(&b, "- category: `%s`\n", cat)
		}

		for _, field := range richFields {
			rich, ok := doc.Fields[field].(map[string]any)
			if !ok {
				continue
			}
			h, _ := rich["html"].(string)
			if h == "" {
				continue
			}
			md, err := htmltomarkdown.ConvertString(h)
			if err != nil {
				md = h
			}
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", field, strings.TrimSpace(md))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create review directory: %w", err)
	}
	return writeFileAtomic(path, []byte(b.String()))
}
