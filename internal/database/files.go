package database

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"kc-go/internal/catalog"
	"kc-go/internal/model"
)

// unusedFilesQuery selects available local files that no available node
// references, which includes files with no File rows at all.
const unusedFilesQuery = `
	SELECT lf.id, lf.extension, lf.file_size, lf.available
	FROM content_localfile lf
	WHERE lf.available = 1
	  AND NOT EXISTS (
		SELECT 1 FROM content_file f
		JOIN content_contentnode n ON n.id = f.contentnode_id
		WHERE f.local_file_id = lf.id AND n.available = 1
	  )
	ORDER BY lf.id`

const orphanFilesQuery = `
	SELECT lf.id, lf.extension, lf.file_size, lf.available
	FROM content_localfile lf
	WHERE NOT EXISTS (SELECT 1 FROM content_file f WHERE f.local_file_id = lf.id)
	ORDER BY lf.id`

// FileStore implements catalog.FileStore.
type FileStore struct {
	db      *sql.DB
	q       *queries
	storage catalog.Storage
	logger  catalog.Logger
}

func (s *FileStore) GetLocalFile(ctx context.Context, id string) (*model.LocalFile, error) {
	f, err := scanLocalFile(s.q.db.QueryRowContext(ctx,
		"SELECT id, extension, file_size, available FROM content_localfile WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting local file %s: %w", id, err)
	}
	return &f, nil
}

// ImportLocalFile copies r into storage under its md5 checksum and upserts
// the local file row as available.
func (s *FileStore) ImportLocalFile(ctx context.Context, r io.Reader, extension string) (*model.LocalFile, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("file store has no storage configured")
	}

	// Buffer to a temp file so the checksum is known before the bytes land
	// in content addressed storage.
	tmp, err := os.CreateTemp("", "kc-import-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding temp file: %w", err)
	}

	f := model.LocalFile{
		ID:        hex.EncodeToString(h.Sum(nil)),
		Extension: extension,
		FileSize:  size,
		Available: true,
	}
	if err := s.storage.Put(f.Filename(), tmp, size); err != nil {
		return nil, fmt.Errorf("storing %s: %w", f.Filename(), err)
	}

	_, err = s.q.db.ExecContext(ctx, `
		INSERT INTO content_localfile (id, extension, file_size, available) VALUES (?, ?, ?, 1)
		ON CONFLICT (id) DO UPDATE SET extension = excluded.extension, file_size = excluded.file_size, available = 1`,
		f.ID, f.Extension, f.FileSize)
	if err != nil {
		return nil, fmt.Errorf("recording local file %s: %w", f.ID, err)
	}
	s.logger.Debug("local file imported", "id", f.ID, "size", size)
	return &f, nil
}

func (s *FileStore) AddFile(ctx context.Context, file *model.File) error {
	_, err := s.q.db.ExecContext(ctx, `
		INSERT INTO content_file (id, contentnode_id, local_file_id, preset, supplementary, priority)
		VALUES (?, ?, ?, ?, ?, ?)`,
		file.ID, file.ContentNodeID, file.LocalFileID, file.Preset, boolInt(file.Supplementary), file.Priority)
	if err != nil {
		return fmt.Errorf("adding file %s: %w", file.ID, err)
	}
	return nil
}

// FilesForNode returns the files of a node ordered by priority.
func (s *FileStore) FilesForNode(ctx context.Context, nodeID string) ([]model.File, error) {
	rows, err := s.q.db.QueryContext(ctx, `
		SELECT id, contentnode_id, local_file_id, preset, supplementary, priority
		FROM content_file WHERE contentnode_id = ? ORDER BY priority, id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing files of %s: %w", nodeID, err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		var supplementary int64
		if err := rows.Scan(&f.ID, &f.ContentNodeID, &f.LocalFileID, &f.Preset, &supplementary, &f.Priority); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		f.Supplementary = supplementary != 0
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *FileStore) GetUnusedFiles(ctx context.Context) ([]model.LocalFile, error) {
	files, err := s.q.listLocalFiles(ctx, unusedFilesQuery)
	if err != nil {
		return nil, fmt.Errorf("listing unused files: %w", err)
	}
	return files, nil
}

// DeleteUnusedFiles materializes the unused set now. Files that become
// unused while the sweep runs are picked up by the next pass.
func (s *FileStore) DeleteUnusedFiles(ctx context.Context) (*catalog.Sweep, error) {
	files, err := s.GetUnusedFiles(ctx)
	if err != nil {
		return nil, err
	}
	remove := func(f model.LocalFile) error {
		return s.removeStored(f)
	}
	finish := func(ids []string) error {
		return s.markUnavailable(ctx, ids)
	}
	return catalog.NewSweep(files, remove, finish), nil
}

func (s *FileStore) DeleteStoredFile(ctx context.Context, file model.LocalFile) (bool, error) {
	removed := s.removeStored(file) == nil
	if err := s.markUnavailable(ctx, []string{file.ID}); err != nil {
		return removed, err
	}
	return removed, nil
}

// removeStored deletes the bytes of f. Every failure is logged and returned
// for the caller to count; none aborts a batch.
func (s *FileStore) removeStored(f model.LocalFile) error {
	if s.storage == nil {
		return fmt.Errorf("file store has no storage configured")
	}
	err := s.storage.Remove(f.Filename())
	switch {
	case err == nil:
		s.logger.Debug("stored file removed", "file", f.Filename())
	case errors.Is(err, os.ErrNotExist), errors.Is(err, catalog.ErrInvalidStorageFilename):
		s.logger.Debug("stored file already gone", "file", f.Filename())
	default:
		s.logger.Warn("removing stored file failed", "file", f.Filename(), "error", err)
	}
	return err
}

func (s *FileStore) markUnavailable(ctx context.Context, ids []string) error {
	return inTx(ctx, s.db, s.q, func(qtx *queries) error {
		for chunk := range slices.Chunk(ids, bulkChunk) {
			query := fmt.Sprintf("UPDATE content_localfile SET available = 0 WHERE id IN (%s)", placeholders(len(chunk)))
			if _, err := qtx.db.ExecContext(ctx, query, stringArgs(chunk)...); err != nil {
				return fmt.Errorf("marking files unavailable: %w", err)
			}
		}
		return nil
	})
}

func (s *FileStore) GetOrphanFiles(ctx context.Context) ([]model.LocalFile, error) {
	files, err := s.q.listLocalFiles(ctx, orphanFilesQuery)
	if err != nil {
		return nil, fmt.Errorf("listing orphan files: %w", err)
	}
	return files, nil
}

func (s *FileStore) DeleteOrphanFileObjects(ctx context.Context) (int64, error) {
	res, err := s.q.db.ExecContext(ctx, `
		DELETE FROM content_localfile
		WHERE NOT EXISTS (SELECT 1 FROM content_file f WHERE f.local_file_id = content_localfile.id)`)
	if err != nil {
		return 0, fmt.Errorf("deleting orphan files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted orphan files: %w", err)
	}
	return n, nil
}

var _ catalog.FileStore = (*FileStore)(nil)

