package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"kc-go/internal/labels"
	"kc-go/internal/model"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the SQL shared by the stores. It runs against the pool or,
// through withTx, inside a transaction.
type queries struct {
	db dbtx
}

func newQueries(db dbtx) *queries {
	return &queries{db: db}
}

func (q *queries) withTx(tx *sql.Tx) *queries {
	return &queries{db: tx}
}

// inTx runs fn inside a transaction on db, committing when fn returns nil.
// While fn runs, every statement must go through the *queries it receives.
func inTx(ctx context.Context, db *sql.DB, q *queries, fn func(qtx *queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(q.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. Primary key clashes are not included.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Content node rows

const nodeTable = "content_contentnode"

// nodeColumns lists the selected columns in scanNode order.
var nodeColumns = append([]string{
	"id", "parent_id", "channel_id", "content_id", "title", "kind", "available",
	"tree_id", "lft", "rght", "level",
}, append(append([]string{}, model.LabelGroups...), model.BitmaskColumns...)...)

// selectNodeColumns renders nodeColumns qualified with alias.
func selectNodeColumns(alias string) string {
	cols := make([]string, len(nodeColumns))
	for i, c := range nodeColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (model.ContentNode, error) {
	var (
		n         model.ContentNode
		parentID  sql.NullString
		available int64
		kind      string
	)
	labelText := make([]string, len(model.LabelGroups))
	masks := make([]int64, len(model.BitmaskColumns))

	dest := []any{&n.ID, &parentID, &n.ChannelID, &n.ContentID, &n.Title, &kind, &available,
		&n.TreeID, &n.Lft, &n.Rght, &n.Level}
	for i := range labelText {
		dest = append(dest, &labelText[i])
	}
	for i := range masks {
		dest = append(dest, &masks[i])
	}
	if err := row.Scan(dest...); err != nil {
		return model.ContentNode{}, err
	}

	n.ParentID = parentID.String
	n.Kind = model.Kind(kind)
	n.Available = available != 0
	for i, group := range model.LabelGroups {
		if list := labels.ParseList(labelText[i]); len(list) > 0 {
			if n.Labels == nil {
				n.Labels = make(map[string][]string)
			}
			n.Labels[group] = list
		}
	}
	n.Bitmasks = make(model.Bitmasks, len(masks))
	for i, col := range model.BitmaskColumns {
		// Stored two's complement; bit 63 reads back negative.
		n.Bitmasks[col] = uint64(masks[i])
	}
	return n, nil
}

func scanNodes(rows *sql.Rows) ([]model.ContentNode, error) {
	defer rows.Close()
	var nodes []model.ContentNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// insertNode writes one node row.
func (q *queries) insertNode(ctx context.Context, n *model.ContentNode) error {
	var parentID any
	if n.ParentID != "" {
		parentID = n.ParentID
	}

	args := []any{n.ID, parentID, n.ChannelID, n.ContentID, n.Title, string(n.Kind), boolInt(n.Available),
		n.TreeID, n.Lft, n.Rght, n.Level}
	for _, group := range model.LabelGroups {
		args = append(args, labels.JoinList(n.Labels[group]))
	}
	for _, col := range model.BitmaskColumns {
		args = append(args, int64(n.Bitmasks[col]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		nodeTable, strings.Join(nodeColumns, ", "), placeholders(len(nodeColumns)))
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting node %s: %w", n.ID, err)
	}
	return nil
}

func (q *queries) getNode(ctx context.Context, id string) (*model.ContentNode, error) {
	query := fmt.Sprintf("SELECT %s FROM %s n WHERE n.id = ?", selectNodeColumns("n"), nodeTable)
	n, err := scanNode(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting node %s: %w", id, err)
	}
	return &n, nil
}

func (q *queries) listNodes(ctx context.Context, where string, args ...any) ([]model.ContentNode, error) {
	query := fmt.Sprintf("SELECT %s FROM %s n WHERE %s ORDER BY n.tree_id, n.lft",
		selectNodeColumns("n"), nodeTable, where)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// Local file rows

func scanLocalFile(row scanner) (model.LocalFile, error) {
	var f model.LocalFile
	var available int64
	if err := row.Scan(&f.ID, &f.Extension, &f.FileSize, &available); err != nil {
		return model.LocalFile{}, err
	}
	f.Available = available != 0
	return f, nil
}

func (q *queries) listLocalFiles(ctx context.Context, query string, args ...any) ([]model.LocalFile, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.LocalFile
	for rows.Next() {
		f, err := scanLocalFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
