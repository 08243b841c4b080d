// Package migrate converts a legacy key-value export into typed store
// documents.
//
// A run is not resumable mid-item but is safe to repeat end to end: every
// document id is derived from its slug, every write is a createOrReplace,
// and image uploads are deduplicated through a persisted URL cache.
package migrate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Row is one legacy key-value pair.
type Row struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Legacy key prefixes and fixed keys.
const (
	PrefixContent = "content:"
	PrefixPost    = "post:"
	PrefixPage    = "page:"

	KeySettings = "settings"
	KeyMenu     = "menu"
)

// LoadRows reads an export file holding either a JSON array of rows or one
// row per line (JSONL).
func LoadRows(path string) ([]Row, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rows []Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("invalid JSON array in %s: %w", path, err)
		}
		return rows, nil
	}

	var rows []Row
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return rows, nil
}

// Buckets holds rows partitioned by kind.
type Buckets struct {
	Content []Row
	Posts   []Row
	Pages   []Row
	// Other holds the fixed-key rows (settings, menu) by key.
	Other map[string]Row
	// Skipped lists keys that matched nothing.
	Skipped []string
}

// Partition splits rows by key prefix. Within a bucket rows are ordered by
// key so that runs over the same export are deterministic.
func Partition(rows []Row) *Buckets {
	b := &Buckets{Other: map[string]Row{}}
	for _, row := range rows {
		switch {
		case strings.HasPrefix(row.Key, PrefixContent):
			b.Content = append(b.Content, row)
		case strings.HasPrefix(row.Key, PrefixPost):
			b.Posts = append(b.Posts, row)
		case strings.HasPrefix(row.Key, PrefixPage):
			b.Pages = append(b.Pages, row)
		case row.Key == KeySettings || row.Key == KeyMenu:
			b.Other[row.Key] = row
		default:
			b.Skipped = append(b.Skipped, row.Key)
		}
	}

	for _, bucket := range [][]Row{b.Content, b.Posts, b.Pages} {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Key < bucket[j].Key })
	}
	return b
}

// keySuffix returns the part of a row key after its prefix.
func keySuffix(row Row) string {
	if i := strings.IndexByte(row.Key, ':'); i >= 0 {
		return row.Key[i+1:]
	}
	return row.Key
}
