// Package identity keeps content-addressed screenshot identities so that a
// byte-identical capture is never uploaded twice.
package identity

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"smartlocate/internal/entity"
)

// Hash returns the identity hash of a screenshot: MD5 over its base64
// encoding, matching what the classification service stores as screenshot_uuid.
func Hash(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	sum := md5.Sum([]byte(encoded))

	return hex.EncodeToString(sum[:])
}

// Cache maps a screenshot file name to its latest identity. It is owned by a
// single test and is not safe for concurrent use.
type Cache struct {
	entries map[string]entity.ScreenshotIdentity
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entity.ScreenshotIdentity),
	}
}

// Store records content under key, replacing any previous identity, and
// returns its hash.
func (c *Cache) Store(key string, content []byte) string {
	hash := Hash(content)

	c.entries[key] = entity.ScreenshotIdentity{
		FileName:    key,
		ContentHash: hash,
	}

	return hash
}

func (c *Cache) Lookup(key string) (string, bool) {
	id, ok := c.entries[key]
	if !ok {
		return "", false
	}

	return id.ContentHash, true
}

func (c *Cache) Identity(key string) (entity.ScreenshotIdentity, bool) {
	id, ok := c.entries[key]

	return id, ok
}

func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) Reset() {
	clear(c.entries)
}
