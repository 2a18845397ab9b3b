package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ValidConfig", func(t *testing.T) {
		t.Parallel()
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesAndOverwrites", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "b/threads/1.json", "application/json", bytes.NewReader([]byte(`{"no":1}`)))
		require.NoError(t, err)
		full := filepath.Join(base, "b", "threads", "1.json")
		assert.Equal(t, "file://"+full, uri)

		_, err = store.PutObject(ctx, "b/threads/1.json", "application/json", bytes.NewReader([]byte(`{"no":1,"posts":[1]}`)))
		require.NoError(t, err)
		// #nosec G304 -- test reads from its own temp directory.
		got, err := os.ReadFile(full)
		require.NoError(t, err)
		assert.JSONEq(t, `{"no":1,"posts":[1]}`, string(got))

		entries, err := os.ReadDir(filepath.Dir(full))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files are left behind")
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.json", "", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("RejectsEmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("ReaderFailureLeavesNoFile", func(t *testing.T) {
		_, err := store.PutObject(ctx, "b/posts/9.json", "", failingReader{})
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(base, "b", "posts", "9.json"))
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
