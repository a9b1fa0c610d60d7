package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"kc-go/internal/catalog"
)

// FileSystemStorage stores local files under a content directory:
//
//	<root>/
//	  storage/
//	    <h0>/<h1>/<hash>.<ext>
type FileSystemStorage struct {
	storageDir string
	baseURL    string
}

// NewFileSystemStorage creates the storage directory under root.
func NewFileSystemStorage(root, baseURL string) (*FileSystemStorage, error) {
	storageDir := filepath.Join(root, "storage")
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileSystemStorage{storageDir: storageDir, baseURL: baseURL}, nil
}

// Path returns the absolute path filename is stored at.
func (s *FileSystemStorage) Path(filename string) (string, error) {
	h0, h1, err := shard(filename)
	if err != nil {
		return "", err
	}
	p, err := filepath.Abs(filepath.Join(s.storageDir, h0, h1, filename))
	if err != nil {
		return "", fmt.Errorf("resolving path of %s: %w", filename, err)
	}
	return p, nil
}

func (s *FileSystemStorage) URL(filename string) (string, error) {
	return contentURL(s.baseURL, filename)
}

// Put stores size bytes from r. An existing file is left in place and r is
// drained so callers see the same behavior either way.
func (s *FileSystemStorage) Put(filename string, r io.Reader, size int64) error {
	dest, err := s.Path(filename)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dest); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeFile(dest, r, size)
}

func (s *FileSystemStorage) Open(filename string) (io.ReadCloser, error) {
	p, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}
	return f, nil
}

// Remove deletes filename. The error wraps fs.ErrNotExist when the file is
// already gone.
func (s *FileSystemStorage) Remove(filename string) error {
	p, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("removing %s: %w", filename, err)
	}
	return nil
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ catalog.Storage = (*FileSystemStorage)(nil)
