package caching

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/spf13/afero"
)

// Cache provides a simple file-based cache for page bodies with a TTL.
type Cache struct {
	fs   afero.Fs
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a new Cache instance on fs.
// The cache path will be created if it doesn't exist.
func NewCache(fs afero.Fs, path string, ttl time.Duration) (*Cache, error) {
	if err := fs.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		fs:   fs,
		path: path,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// key is the SHA256 of the URL, used as the file name.
func (c *Cache) key(url string) string {
	return common.ContentHash([]byte(url))
}

// Get retrieves an item from the cache.
// It returns the data and true if the item is found and not expired.
func (c *Cache) Get(url string) ([]byte, bool) {
	filePath := filepath.Join(c.path, c.key(url))

	info, err := c.fs.Stat(filePath)
	if err != nil {
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(info.ModTime()) > c.ttl {
		return nil, false
	}

	data, err := afero.ReadFile(c.fs, filePath)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set adds an item to the cache.
func (c *Cache) Set(url string, data []byte) error {
	filePath := filepath.Join(c.path, c.key(url))
	if err := afero.WriteFile(c.fs, filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Invalidate drops the entry for url if present.
func (c *Cache) Invalidate(url string) error {
	err := c.fs.Remove(filepath.Join(c.path, c.key(url)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}
