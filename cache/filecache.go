package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

// snapshotFile is the on-disk form of a persisted cache
type snapshotFile struct {
	SavedAt time.Time                  `json:"saved_at"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// FileStore persists selected cache entries between runs
type FileStore struct {
	dir  string
	name string
}

// NewFileStore creates a store under ~/.storefront_cache, or under dir when
// it is non-empty
func NewFileStore(dir, name string) (*FileStore, error) {
	if dir == "" {
		usr, err := user.Current()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(usr.HomeDir, ".storefront_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	if name == "" {
		name = "objects"
	}
	return &FileStore{dir: dir, name: name}, nil
}

// Path returns the snapshot file location
func (fs *FileStore) Path() string {
	return filepath.Join(fs.dir, fs.name+".json")
}

// Save writes every entry of c accepted by filter (all when nil)
func (fs *FileStore) Save(c *Memory, filter func(key string) bool) error {
	snap := snapshotFile{SavedAt: time.Now(), Entries: make(map[string]json.RawMessage)}
	for _, k := range c.Keys() {
		if filter != nil && !filter(k) {
			continue
		}
		b, err := json.Marshal(c.entries[k])
		if err != nil {
			return fmt.Errorf("encode cache entry %s: %w", k, err)
		}
		snap.Entries[k] = b
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	path := fs.Path()
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load restores persisted entries into c, bypassing the rewrite chain.
// A missing snapshot is not an error. Entries older than maxAge are ignored
// when maxAge is positive.
func (fs *FileStore) Load(c *Memory, maxAge time.Duration) (int, error) {
	data, err := os.ReadFile(fs.Path())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode cache snapshot: %w", err)
	}
	if maxAge > 0 && time.Since(snap.SavedAt) > maxAge {
		return 0, nil
	}

	n := 0
	for k, raw := range snap.Entries {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return n, fmt.Errorf("decode cache entry %s: %w", k, err)
		}
		c.entries[k] = v
		n++
	}
	return n, nil
}
