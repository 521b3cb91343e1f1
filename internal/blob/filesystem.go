package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilesystemStore keeps blobs as files under a base directory, one file per
// key. Keys are generated, never caller-supplied, so they are always a
// single path element.
type FilesystemStore struct {
	basePath string
}

var _ Store = (*FilesystemStore)(nil)

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving blob path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FilesystemStore{basePath: abs}, nil
}

// Put streams the blob to a temp file and renames it into place so a
// partially written upload is never visible under its key.
func (f *FilesystemStore) Put(r io.Reader) (string, string, error) {
	key := uuid.New().String()
	path := filepath.Join(f.basePath, key)

	tmp, err := os.CreateTemp(f.basePath, ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("placing blob: %w", err)
	}

	return key, "file://" + path, nil
}

// Open returns the blob and its size.
func (f *FilesystemStore) Open(key string) (Blob, int64, error) {
	path, err := f.fullPath(key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("opening blob: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stating blob: %w", err)
	}
	return file, info.Size(), nil
}

// Delete removes the blob. Deleting a missing key is a no-op.
func (f *FilesystemStore) Delete(key string) error {
	path, err := f.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

// fullPath rejects keys that would escape the base directory.
func (f *FilesystemStore) fullPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.basePath, key), nil
}
