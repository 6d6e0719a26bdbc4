package cache

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "test")
	require.NoError(t, err)

	c := New()
	c.Set("/api/category/games/", map[string]any{"slug": "games", "name": "Games"})
	c.Set("/api/account/", map[string]any{"user": "me"})

	require.NoError(t, fs.Save(c, func(k string) bool { return !strings.Contains(k, "account") }))

	restored := New(WithRewriters(func(string, any, Reader) Decision { return Suppress() }))
	n, err := fs.Load(restored, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"/api/category/games/"}, restored.Keys())

	v, _ := restored.Get("/api/category/games/")
	assert.Equal(t, "Games", v.(map[string]any)["name"])
}

func TestFileStoreMissingSnapshot(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	n, err := fs.Load(New(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, statErr := os.Stat(fs.Path())
	assert.True(t, os.IsNotExist(statErr))
}
