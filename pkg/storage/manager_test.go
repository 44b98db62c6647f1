package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePayload(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)

	data := []byte("jpeg bytes")
	rel, err := m.SavePayload("alice", FileName("p1", 1, ".jpg"), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "alice/p1_1.jpg", rel)

	content, err := os.ReadFile(filepath.Join(root, "alice", "p1_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, data, content)
	assert.True(t, m.Exists(rel))

	_, err = os.Stat(filepath.Join(root, "alice", "p1_1.jpg.tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSavePayloadCleansUpOnReadError(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)

	_, err = m.SavePayload("alice", "p1_1.jpg", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "alice"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSavePayloadRejectsTraversal(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../x.jpg", `a\b.jpg`} {
		_, err := m.SavePayload("alice", name, bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err = m.SavePayload("../etc", "p.jpg", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRemove(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	rel, err := m.SavePayload("alice", "p1_1.jpg", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, m.Remove(rel))
	assert.False(t, m.Exists(rel))
	assert.NoError(t, m.Remove(rel), "removing a missing payload is not an error")
}

func TestFileNameAndExt(t *testing.T) {
	assert.Equal(t, "p1_2.png", FileName("p1", 2, ".png"))
	assert.Equal(t, "p1_1.jpg", FileName("p1", 1, ""))

	assert.Equal(t, ".jpg", ExtFromURL("https://cdn.example.com/v/t51/abc.jpg?stp=dst"))
	assert.Equal(t, ".webp", ExtFromURL("https://cdn.example.com/abc.WEBP"))
	assert.Equal(t, ".jpg", ExtFromURL("https://cdn.example.com/abc"))
	assert.Equal(t, ".jpg", ExtFromURL("https://cdn.example.com/abc.mp4"))
}

func TestTargetDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "downloads")
	m, err := NewManager(root)
	require.NoError(t, err)

	assert.Equal(t, root, m.Root())
	assert.Equal(t, filepath.Join(root, "alice"), m.TargetDir("alice"))
	assert.DirExists(t, root)
}
