package storage

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"kc-go/internal/catalog"
)

// MemoryStorage is an in-memory implementation of catalog.Storage, useful
// for testing. Paths are rendered under a virtual /memory root.
// This implementation is safe for concurrent use.
type MemoryStorage struct {
	baseURL string
	mu      sync.RWMutex
	files   map[string][]byte

	// FailRemove, when set, is returned by Remove for the named file.
	FailRemove map[string]error
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{baseURL: baseURL, files: make(map[string][]byte)}
}

func (m *MemoryStorage) Path(filename string) (string, error) {
	h0, h1, err := shard(filename)
	if err != nil {
		return "", err
	}
	return path.Join("/memory", "storage", h0, h1, filename), nil
}

func (m *MemoryStorage) URL(filename string) (string, error) {
	return contentURL(m.baseURL, filename)
}

func (m *MemoryStorage) Put(filename string, r io.Reader, size int64) error {
	if _, _, err := shard(filename); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[filename]; !ok {
		m.files[filename] = data
	}
	return nil
}

func (m *MemoryStorage) Open(filename string) (io.ReadCloser, error) {
	if _, _, err := shard(filename); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[filename]
	if !ok {
		return nil, fmt.Errorf("opening %s: %w", filename, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) Remove(filename string) error {
	if _, _, err := shard(filename); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailRemove[filename]; ok {
		return err
	}
	if _, ok := m.files[filename]; !ok {
		return fmt.Errorf("removing %s: %w", filename, fs.ErrNotExist)
	}
	delete(m.files, filename)
	return nil
}

// Has reports whether filename is stored.
func (m *MemoryStorage) Has(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[filename]
	return ok
}

var _ catalog.Storage = (*MemoryStorage)(nil)
