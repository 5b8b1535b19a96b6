package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportDirSaveAndOpen(t *testing.T) {
	dir, err := NewExportDir(t.TempDir())
	require.NoError(t, err)

	name, err := dir.Save("reports/roster.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "reports/roster.csv", name)

	file, err := dir.Open(name)
	require.NoError(t, err)
	defer file.Close()
	contents, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(contents))
}

func TestExportDirRejectsEscapingNames(t *testing.T) {
	dir, err := NewExportDir(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "/etc/passwd", "../outside.csv", "reports/../../outside.csv"} {
		_, err := dir.Save(name, []byte("x"))
		assert.Error(t, err, "name %q must not resolve", name)
		_, err = dir.Open(name)
		assert.Error(t, err, "name %q must not resolve", name)
	}
}

func TestExportDirCleanupOlderThan(t *testing.T) {
	root := t.TempDir()
	dir, err := NewExportDir(root)
	require.NoError(t, err)

	_, err = dir.Save("old.csv", []byte("old"))
	require.NoError(t, err)
	_, err = dir.Save("fresh.csv", []byte("fresh"))
	require.NoError(t, err)

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old.csv"), stale, stale))

	removed, err := dir.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = dir.Open("old.csv")
	assert.Error(t, err)
	_, err = dir.Open("fresh.csv")
	assert.NoError(t, err)
}
