package cursor_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hubsub/cursor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStoreFirstRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)

	assert.Equal(t, "", store.Read())

	data, err := os.ReadFile(filepath.Join(dir, "next-uri"))
	require.NoError(t, err)
	assert.Equal(t, "\n", string(data))
}

func TestNewFileStoreRejectsBadLocation(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := cursor.NewFileStore(filepath.Join(blocker, "sub"), "next-uri")
	assert.Error(t, err)

	_, err = cursor.NewFileStore(base, "")
	assert.Error(t, err)
}

func TestWriteSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)
	require.NoError(t, store.Write("http://hub/channels/a/events/page-3"))
	assert.Equal(t, "http://hub/channels/a/events/page-3", store.Read())

	restarted, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)
	assert.Equal(t, "http://hub/channels/a/events/page-3", restarted.Read())
}

func TestReadPicksUpFileWrittenElsewhere(t *testing.T) {
	dir := t.TempDir()

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte("http://hub/p/9\nignored\n"), 0o600))
	assert.Equal(t, "http://hub/p/9", store.Read())
}

func TestFailedWriteKeepsPreviousCursor(t *testing.T) {
	dir := t.TempDir()

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)
	require.NoError(t, store.Write("http://hub/p/1"))

	// Replace the cursor file with a non-empty directory so the rename fails
	require.NoError(t, os.Remove(store.Path()))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Path(), "child"), 0o700))

	err = store.Write("http://hub/p/2")
	assert.Error(t, err)
	assert.Equal(t, "http://hub/p/1", store.Read())
}

func TestUnreadableFileFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "next-uri")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0o700))

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)
	assert.Equal(t, "", store.Read())
}

func TestConcurrentWritesNeverInterleave(t *testing.T) {
	dir := t.TempDir()

	store, err := cursor.NewFileStore(dir, "next-uri")
	require.NoError(t, err)

	written := make(map[string]bool)
	for i := 0; i < 20; i++ {
		written[fmt.Sprintf("http://hub/channels/a/events/%s", strings.Repeat(fmt.Sprint(i%10), 64))] = true
	}

	var wg sync.WaitGroup
	for uri := range written {
		wg.Add(2)
		go func(uri string) {
			defer wg.Done()
			assert.NoError(t, store.Write(uri))
		}(uri)
		go func() {
			defer wg.Done()
			got := store.Read()
			if got != "" {
				assert.True(t, written[got], "read a partial cursor: %q", got)
			}
		}()
	}
	wg.Wait()

	final := store.Read()
	assert.True(t, written[final])

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, final, strings.TrimSpace(string(data)))
}

func TestReadFallbackNeverHidesConcurrentWrite(t *testing.T) {
	for i := 0; i < 200; i++ {
		dir := t.TempDir()
		store, err := cursor.NewFileStore(dir, "cursor")
		require.NoError(t, err)

		// Written by another process, the cache doesn't know about it yet
		require.NoError(t, os.WriteFile(store.Path(), []byte("http://hub/feed/a\n"), 0o600))

		var wg sync.WaitGroup
		for r := 0; r < 8; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				store.Read()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Write("http://hub/feed/b"))
		}()
		wg.Wait()

		require.Equal(t, "http://hub/feed/b", store.Read(), "iteration %d", i)
	}
}
