package database

import (
	"context"
	"database/sql"
	"fmt"

	"kc-go/internal/catalog"
	"kc-go/internal/model"
)

// OperationStore implements catalog.OperationStore over catalog_operations.
type OperationStore struct {
	q     *queries
	clock catalog.Clock
}

func (s *OperationStore) CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  s.clock.Now().UTC(),
	}
	res, err := s.q.db.ExecContext(ctx,
		"INSERT INTO catalog_operations (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.Status, op.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *OperationStore) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.q.db.ExecContext(ctx,
		"UPDATE catalog_operations SET status = ?, finished_at = ? WHERE id = ?",
		status, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first. A limit
// of zero or less returns them all.
func (s *OperationStore) ListOperations(ctx context.Context, limit int) ([]model.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.db.QueryContext(ctx, `
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM catalog_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var op model.Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = &finished.Time
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

var _ catalog.OperationStore = (*OperationStore)(nil)
