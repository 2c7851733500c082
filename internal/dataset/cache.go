package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// IndexCache persists JSONL line indexes so a large file is scanned once
// rather than on every run. Entries are keyed by file identity and expire
// after ttl.
type IndexCache struct {
	dir string
	ttl time.Duration
}

// NewIndexCache creates a new index cache in the given directory.
func NewIndexCache(dir string, ttl time.Duration) *IndexCache {
	return &IndexCache{dir: dir, ttl: ttl}
}

// Load retrieves a cached index if it exists and hasn't expired.
func (c *IndexCache) Load(key string) (*lineIndex, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > c.ttl {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var idx lineIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, false
	}
	if len(idx.Offsets) != len(idx.Sizes) || len(idx.Offsets) != len(idx.Lengths) {
		return nil, false
	}

	return &idx, true
}

// Store writes an index to the cache.
func (c *IndexCache) Store(key string, idx *lineIndex) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}

	return os.Rename(tmp.Name(), c.path(key))
}

// Clear removes all cached data.
func (c *IndexCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *IndexCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// indexKey identifies a dataset file by absolute path, size, modification
// time and the feature used for lengths.
func indexKey(path string, info os.FileInfo, lengthFeature string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := sha256.New()
	h.Write([]byte(abs))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(lengthFeature))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
