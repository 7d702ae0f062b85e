package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreIsIdempotent(t *testing.T) {
	cache := NewCache()
	content := []byte("\x89PNG fake screenshot bytes")

	first := cache.Store("temp-devtools-a", content)
	second := cache.Store("temp-devtools-a", content)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestStoreReplacesPreviousIdentity(t *testing.T) {
	cache := NewCache()

	old := cache.Store("shot", []byte("one"))
	latest := cache.Store("shot", []byte("two"))
	require.NotEqual(t, old, latest)

	got, ok := cache.Lookup("shot")
	require.True(t, ok)
	assert.Equal(t, latest, got)

	id, ok := cache.Identity("shot")
	require.True(t, ok)
	assert.Equal(t, "shot", id.FileName)
	assert.Equal(t, latest, id.ContentHash)
}

func TestLookupMissing(t *testing.T) {
	_, ok := NewCache().Lookup("absent")
	assert.False(t, ok)
}

func TestHashIsMD5OfBase64(t *testing.T) {
	// base64("abc") = "YWJj"; md5("YWJj")
	assert.Equal(t, "f4c0128178a6a21b7a3dd76729725d91", Hash([]byte("abc")))
}

func TestReset(t *testing.T) {
	cache := NewCache()
	cache.Store("a", []byte("x"))
	cache.Reset()

	_, ok := cache.Lookup("a")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}
