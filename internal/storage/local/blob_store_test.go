package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fanbox-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "mirror", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	t.Run("WritesNestedObject", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "fanbox/42/42-Title.pdf", "application/pdf", strings.NewReader("%PDF"))
		require.NoError(t, err)
		want := filepath.Join(dir, "fanbox", "42", "42-Title.pdf")
		assert.Equal(t, "file://"+filepath.ToSlash(want), uri)

		got, err := os.ReadFile(want) // #nosec G304 -- test reads from the controlled temp directory.
		require.NoError(t, err)
		assert.Equal(t, "%PDF", string(got))
	})

	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.txt", "", strings.NewReader("long content"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.txt", "", strings.NewReader("short"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "a.txt")) // #nosec G304 -- test reads from the controlled temp directory.
		require.NoError(t, err)
		assert.Equal(t, "short", string(got))
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "", strings.NewReader("x"))
		require.ErrorIs(t, err, local.ErrPathTraversal)
		assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.txt"))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "b.txt", "", strings.NewReader("x"))
		require.ErrorIs(t, err, context.Canceled)
	})
}
