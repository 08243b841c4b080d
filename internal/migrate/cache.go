package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AssetCache is the persisted source URL -> asset id map.
//
// The file is rewritten after every Put so that an interrupted run never
// loses an upload. Concurrent processes sharing one cache file race on it;
// run one migration at a time.
type AssetCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// LoadAssetCache reads the cache at path. A missing file yields an empty
// cache. An empty path gives an in-memory cache that is never persisted.
func LoadAssetCache(path string) (*AssetCache, error) {
	c := &AssetCache{path: path, entries: map[string]string{}}
	if path == "" {
		return c, nil
	}

	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset cache: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("invalid asset cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the cached asset id for url.
func (c *AssetCache) Get(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[url]
	return id, ok
}

// Put records an upload and persists the whole map.
func (c *AssetCache) Put(url, assetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = assetID
	return c.save()
}

// Len returns the number of cached URLs.
func (c *AssetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *AssetCache) save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal asset cache: %w", err)
	}
	return writeFileAtomic(c.path, data)
}

// writeFileAtomic writes via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
