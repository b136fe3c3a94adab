package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := &localStore{baseDir: dir}

	path, err := store.Put(context.Background(), "resumes/cand-1/resume.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "resumes", "cand-1", "resume.txt"), path)

	data, err := store.Get(context.Background(), "resumes/cand-1/resume.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestLocalStoreMissingKey(t *testing.T) {
	store := &localStore{baseDir: t.TempDir()}
	_, err := store.Get(context.Background(), "resumes/nope/resume.pdf")
	assert.Error(t, err)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "etc/passwd", SanitizeKey("/../etc/passwd"))
	assert.Equal(t, "resumes/a.txt", SanitizeKey("./resumes/a.txt"))
}
