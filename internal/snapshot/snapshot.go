// Package snapshot copies the catalog database to a destination and back,
// optionally sealed with an age passphrase.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kc-go/internal/catalog"
)

const (
	namePrefix = "kc-"
	dbSuffix   = ".db"
	sealSuffix = ".age"
)

// Backuper writes a consistent copy of a database to a file.
type Backuper interface {
	BackupTo(path string) error
}

// Manager creates and restores snapshots.
type Manager struct {
	dest   Destination
	sealer *Sealer // nil for plaintext snapshots
	clock  catalog.Clock
	logger catalog.Logger
}

func NewManager(dest Destination, sealer *Sealer, clock catalog.Clock, logger catalog.Logger) *Manager {
	if logger == nil {
		logger = catalog.NewNopLogger()
	}
	return &Manager{dest: dest, sealer: sealer, clock: clock, logger: logger}
}

// name derives the snapshot name from the current time.
func (m *Manager) name() string {
	name := namePrefix + m.clock.Now().UTC().Format("20060102T150405Z") + dbSuffix
	if m.sealer != nil {
		name += sealSuffix
	}
	return name
}

// Create backs db up to a temp file and stores it, returning the snapshot name.
func (m *Manager) Create(ctx context.Context, db Backuper) (string, error) {
	tmpDir, err := os.MkdirTemp("", "kc-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "catalog.db")
	if err := db.BackupTo(plainPath); err != nil {
		return "", fmt.Errorf("backing up database: %w", err)
	}

	uploadPath := plainPath
	if m.sealer != nil {
		uploadPath = filepath.Join(tmpDir, "catalog.db.age")
		if err := m.sealFile(plainPath, uploadPath); err != nil {
			return "", err
		}
	}

	f, err := os.Open(uploadPath)
	if err != nil {
		return "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat snapshot: %w", err)
	}

	name := m.name()
	if err := m.dest.Put(ctx, name, f, info.Size()); err != nil {
		return "", err
	}
	m.logger.Info("snapshot created", "name", name, "size", info.Size())
	return name, nil
}

func (m *Manager) sealFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	if err := m.sealer.Seal(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Restore fetches the named snapshot and writes the plain database to
// destPath. destPath must not exist.
func (m *Manager) Restore(ctx context.Context, name, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("output file already exists: %s", destPath)
	}
	sealed := strings.HasSuffix(name, sealSuffix)
	if sealed && m.sealer == nil {
		return fmt.Errorf("snapshot %s is sealed but no passphrase was provided", name)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	if err := m.fetch(ctx, name, sealed, out); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}
	m.logger.Info("snapshot restored", "name", name, "path", destPath)
	return nil
}

func (m *Manager) fetch(ctx context.Context, name string, sealed bool, w io.Writer) error {
	if !sealed {
		return m.dest.Get(ctx, name, w)
	}

	pr, pw := io.Pipe()
	getErrCh := make(chan error, 1)
	go func() {
		err := m.dest.Get(ctx, name, pw)
		pw.CloseWithError(err)
		getErrCh <- err
	}()

	openErr := m.sealer.Open(w, pr)
	pr.CloseWithError(openErr)
	getErr := <-getErrCh

	if openErr != nil {
		return openErr
	}
	return getErr
}

// List returns the stored snapshot names, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.dest.List(ctx)
}
