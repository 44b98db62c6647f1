package storage

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidName = errors.New("invalid payload name")

// Manager handles payload file storage below a root directory
type Manager struct {
	root string
}

// NewManager creates the root directory if needed
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root is the directory payload paths are relative to
func (m *Manager) Root() string {
	return m.root
}

// TargetDir returns the directory used for a target handle
func (m *Manager) TargetDir(target string) string {
	return filepath.Join(m.Root(), target)
}

// FileName builds the payload file name for the n-th (1-based) payload of a post
func FileName(externalID string, n int, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s_%d%s", externalID, n, ext)
}

// ExtFromURL returns the file extension of a media URL, defaulting to .jpg
func ExtFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".jpg"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
		return ext
	default:
		return ".jpg"
	}
}

// SavePayload writes r to <root>/<target>/<name> and returns the root-relative path
func (m *Manager) SavePayload(target, name string, r io.Reader) (string, error) {
	if err := validName(target); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}

	dir := m.TargetDir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create target directory: %w", err)
	}

	filename := filepath.Join(dir, name)
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to save payload data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return target + "/" + name, nil
}

// Remove deletes a payload by its root-relative path
func (m *Manager) Remove(rel string) error {
	err := os.Remove(m.Abs(rel))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove payload: %w", err)
	}
	return nil
}

// Exists reports whether a root-relative payload path is present
func (m *Manager) Exists(rel string) bool {
	_, err := os.Stat(m.Abs(rel))
	return err == nil
}

// Abs resolves a root-relative payload path
func (m *Manager) Abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
