package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"

	"kc-go/internal/catalog"
	"kc-go/internal/labels"
	"kc-go/internal/model"
	"kc-go/internal/tree"
)

// bulkChunk bounds the number of ids bound into one IN (...) list.
const bulkChunk = 500

// treeLocks serializes structural writes per tree id. Allocating a new tree
// id has its own lock so new trees never wait on existing ones.
type treeLocks struct {
	mu     sync.Mutex
	byTree map[int64]*sync.Mutex
	alloc  sync.Mutex
}

func newTreeLocks() *treeLocks {
	return &treeLocks{byTree: make(map[int64]*sync.Mutex)}
}

func (l *treeLocks) lock(treeID int64) func() {
	l.mu.Lock()
	m, ok := l.byTree[treeID]
	if !ok {
		m = &sync.Mutex{}
		l.byTree[treeID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// TreeStore implements catalog.TreeStore.
type TreeStore struct {
	db       *sql.DB
	q        *queries
	registry *labels.Registry
	ids      catalog.IDGenerator
	dedupe   DedupeStrategy
	locks    *treeLocks
}

// BuildTree lays spec out as nested sets and inserts it. With a target, rows
// of the target's tree at or after the cursor are first shifted right by
// twice the subtree size. The shift and the insert share one transaction.
func (s *TreeStore) BuildTree(ctx context.Context, spec tree.Spec, target *model.ContentNode, pos tree.Position) ([]model.ContentNode, error) {
	if target == nil {
		return s.buildNewTree(ctx, spec)
	}

	cursor, level, err := tree.Start(target, pos)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(target.TreeID)
	defer unlock()

	var nodes []model.ContentNode
	err = inTx(ctx, s.db, s.q, func(qtx *queries) error {
		current, err := qtx.getNode(ctx, target.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", catalog.ErrNodeNotFound, target.ID)
		}
		if current.TreeID != target.TreeID || current.Lft != target.Lft || current.Rght != target.Rght || current.Level != target.Level {
			return fmt.Errorf("%w: %s is now (%d, %d) in tree %d", catalog.ErrStaleTarget,
				target.ID, current.Lft, current.Rght, current.TreeID)
		}

		nodes = tree.Assign(spec, tree.Layout{
			TreeID:    target.TreeID,
			Cursor:    cursor,
			Level:     level,
			ParentID:  tree.ParentOf(target, pos),
			ChannelID: target.ChannelID,
			NewID:     s.ids.New,
		})
		if err := s.encodeLabels(nodes); err != nil {
			return err
		}

		if err := qtx.shiftRight(ctx, target.TreeID, cursor, int64(2*len(nodes))); err != nil {
			return err
		}
		for i := range nodes {
			if err := qtx.insertNode(ctx, &nodes[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *TreeStore) buildNewTree(ctx context.Context, spec tree.Spec) ([]model.ContentNode, error) {
	s.locks.alloc.Lock()
	defer s.locks.alloc.Unlock()

	if spec.ID == "" {
		spec.ID = s.ids.New()
	}
	channelID := spec.ChannelID
	if channelID == "" {
		channelID = spec.ID
	}

	var nodes []model.ContentNode
	err := inTx(ctx, s.db, s.q, func(qtx *queries) error {
		var maxTree int64
		row := qtx.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(tree_id), 0) FROM content_contentnode")
		if err := row.Scan(&maxTree); err != nil {
			return fmt.Errorf("allocating tree id: %w", err)
		}

		cursor, level, _ := tree.Start(nil, tree.LastChild)
		nodes = tree.Assign(spec, tree.Layout{
			TreeID:    maxTree + 1,
			Cursor:    cursor,
			Level:     level,
			ChannelID: channelID,
			NewID:     s.ids.New,
		})
		if err := s.encodeLabels(nodes); err != nil {
			return err
		}
		for i := range nodes {
			if err := qtx.insertNode(ctx, &nodes[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// encodeLabels fills the bitmask columns of nodes from their label text.
func (s *TreeStore) encodeLabels(nodes []model.ContentNode) error {
	for i := range nodes {
		n := &nodes[i]
		n.Bitmasks = make(model.Bitmasks)
		for group, list := range n.Labels {
			masks, err := s.registry.Encode(group, list)
			if err != nil {
				return fmt.Errorf("encoding labels of node %s: %w", n.ID, err)
			}
			for col, v := range masks {
				n.Bitmasks[col] = v
			}
		}
	}
	return nil
}

// shiftRight makes room for width coordinates at cursor. lft and rght are
// updated in one statement so no row is ever written with lft >= rght.
func (q *queries) shiftRight(ctx context.Context, treeID, cursor, width int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE content_contentnode
		SET lft = CASE WHEN lft >= ? THEN lft + ? ELSE lft END,
		    rght = CASE WHEN rght >= ? THEN rght + ? ELSE rght END
		WHERE tree_id = ? AND rght >= ?`,
		cursor, width, cursor, width, treeID, cursor)
	if err != nil {
		return fmt.Errorf("making space in tree %d: %w", treeID, err)
	}
	return nil
}

// closeGap removes width coordinates after the deleted range ending at rght.
func (q *queries) closeGap(ctx context.Context, treeID, rght, width int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE content_contentnode
		SET lft = CASE WHEN lft > ? THEN lft - ? ELSE lft END,
		    rght = CASE WHEN rght > ? THEN rght - ? ELSE rght END
		WHERE tree_id = ? AND rght > ?`,
		rght, width, rght, width, treeID, rght)
	if err != nil {
		return fmt.Errorf("closing gap in tree %d: %w", treeID, err)
	}
	return nil
}

// GetNode returns the node with id, or nil if it does not exist.
func (s *TreeStore) GetNode(ctx context.Context, id string) (*model.ContentNode, error) {
	return s.q.getNode(ctx, id)
}

// GetChildren returns the direct children of node in tree order.
func (s *TreeStore) GetChildren(ctx context.Context, node *model.ContentNode) ([]model.ContentNode, error) {
	nodes, err := s.q.listNodes(ctx, "n.parent_id = ?", node.ID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", node.ID, err)
	}
	return nodes, nil
}

// GetAncestors returns the ancestors of node from the root down.
func (s *TreeStore) GetAncestors(ctx context.Context, node *model.ContentNode) ([]model.ContentNode, error) {
	nodes, err := s.q.listNodes(ctx, "n.tree_id = ? AND n.lft < ? AND n.rght > ?", node.TreeID, node.Lft, node.Rght)
	if err != nil {
		return nil, fmt.Errorf("listing ancestors of %s: %w", node.ID, err)
	}
	return nodes, nil
}

func (s *TreeStore) GetDescendantContentIDs(ctx context.Context, node *model.ContentNode) ([]string, error) {
	rows, err := s.q.db.QueryContext(ctx, `
		SELECT content_id FROM content_contentnode
		WHERE tree_id = ? AND lft >= ? AND lft <= ? AND kind != ?
		ORDER BY lft`,
		node.TreeID, node.Lft, node.Rght, string(model.KindTopic))
	if err != nil {
		return nil, fmt.Errorf("listing descendant content ids of %s: %w", node.ID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning content id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// orderableColumns are the columns NodeQuery.OrderBy may name.
var orderableColumns = []string{"id", "content_id", "channel_id", "title", "kind", "tree_id", "lft", "level"}

func orderClause(orderBy []string) (string, error) {
	if len(orderBy) == 0 {
		return "n.tree_id, n.lft", nil
	}
	parts := make([]string, 0, len(orderBy))
	for _, o := range orderBy {
		col, dir := o, ""
		if strings.HasPrefix(o, "-") {
			col, dir = o[1:], " DESC"
		}
		if !slices.Contains(orderableColumns, col) {
			return "", fmt.Errorf("cannot order nodes by %q", o)
		}
		parts = append(parts, "n."+col+dir)
	}
	return strings.Join(parts, ", "), nil
}

// whereClause renders the filters of q against alias n.
func whereClause(q catalog.NodeQuery) (string, []any) {
	clauses := []string{"1 = 1"}
	var args []any

	if q.TreeID != 0 {
		clauses = append(clauses, "n.tree_id = ?")
		args = append(args, q.TreeID)
	}
	if q.ChannelID != "" {
		clauses = append(clauses, "n.channel_id = ?")
		args = append(args, q.ChannelID)
	}
	if q.ParentID != "" {
		clauses = append(clauses, "n.parent_id = ?")
		args = append(args, q.ParentID)
	}
	if q.IDs != nil {
		if len(q.IDs) == 0 {
			clauses = append(clauses, "0 = 1")
		} else {
			clauses = append(clauses, "n.id IN ("+placeholders(len(q.IDs))+")")
			args = append(args, stringArgs(q.IDs)...)
		}
	}
	if len(q.Kinds) > 0 {
		clauses = append(clauses, "n.kind IN ("+placeholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if q.ExcludeTopics {
		clauses = append(clauses, "n.kind != ?")
		args = append(args, string(model.KindTopic))
	}
	if q.Available != nil {
		clauses = append(clauses, "n.available = ?")
		args = append(args, boolInt(*q.Available))
	}
	for _, p := range q.Labels {
		sqlText, pargs := p.SQL()
		if sqlText == "" {
			continue
		}
		clauses = append(clauses, "("+sqlText+")")
		args = append(args, pargs...)
	}
	return strings.Join(clauses, " AND "), args
}

// FindNodes returns the nodes matching q.
func (s *TreeStore) FindNodes(ctx context.Context, q catalog.NodeQuery) ([]model.ContentNode, error) {
	order, err := orderClause(q.OrderBy)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(q)

	var query string
	switch {
	case !q.DedupeByContentID:
		query = fmt.Sprintf("SELECT %s FROM content_contentnode n WHERE %s", selectNodeColumns("n"), where)
	case s.dedupe == DedupeWindow:
		query = fmt.Sprintf(`SELECT %s FROM (
			SELECT n.*, ROW_NUMBER() OVER (PARTITION BY n.content_id ORDER BY n.id) AS dedupe_rank
			FROM content_contentnode n WHERE %s
		) n WHERE n.dedupe_rank = 1`, selectNodeColumns("n"), where)
	default:
		query = fmt.Sprintf(`SELECT %s FROM content_contentnode n WHERE %s AND n.id IN (
			SELECT MIN(n.id) FROM content_contentnode n WHERE %s GROUP BY n.content_id
		)`, selectNodeColumns("n"), where, where)
		args = append(args, args...)
	}
	query += " ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding nodes: %w", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning nodes: %w", err)
	}
	return nodes, nil
}

// DeleteSubtree deletes node and its descendants. File rows go with them
// through the foreign key cascade.
func (s *TreeStore) DeleteSubtree(ctx context.Context, node *model.ContentNode) (int64, error) {
	unlock := s.locks.lock(node.TreeID)
	defer unlock()

	var removed int64
	err := inTx(ctx, s.db, s.q, func(qtx *queries) error {
		var err error
		removed, err = qtx.deleteSubtree(ctx, node)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (q *queries) deleteSubtree(ctx context.Context, node *model.ContentNode) (int64, error) {
	current, err := q.getNode(ctx, node.ID)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, fmt.Errorf("%w: %s", catalog.ErrNodeNotFound, node.ID)
	}
	if current.TreeID != node.TreeID || current.Lft != node.Lft || current.Rght != node.Rght {
		return 0, fmt.Errorf("%w: %s is now (%d, %d)", catalog.ErrStaleTarget, node.ID, current.Lft, current.Rght)
	}

	if _, err := q.db.ExecContext(ctx,
		"DELETE FROM content_contentnode WHERE tree_id = ? AND lft >= ? AND lft <= ?",
		current.TreeID, current.Lft, current.Rght); err != nil {
		return 0, fmt.Errorf("deleting subtree %s: %w", node.ID, err)
	}

	// Cascaded rows are not counted by RowsAffected; the bounds are exact.
	width := current.Rght - current.Lft + 1
	if err := q.closeGap(ctx, current.TreeID, current.Rght, width); err != nil {
		return 0, err
	}
	return width / 2, nil
}

func (s *TreeStore) SetAvailability(ctx context.Context, ids []string, available bool) error {
	return inTx(ctx, s.db, s.q, func(qtx *queries) error {
		for chunk := range slices.Chunk(ids, bulkChunk) {
			query := fmt.Sprintf("UPDATE content_contentnode SET available = ? WHERE id IN (%s)", placeholders(len(chunk)))
			args := append([]any{boolInt(available)}, stringArgs(chunk)...)
			if _, err := qtx.db.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("setting availability: %w", err)
			}
		}
		return nil
	})
}

func (s *TreeStore) RecomputeTopicAvailability(ctx context.Context, treeID int64) error {
	_, err := s.q.db.ExecContext(ctx, `
		UPDATE content_contentnode
		SET available = EXISTS (
			SELECT 1 FROM content_contentnode d
			WHERE d.tree_id = content_contentnode.tree_id
			  AND d.lft > content_contentnode.lft
			  AND d.rght < content_contentnode.rght
			  AND d.kind != ?
			  AND d.available = 1
		)
		WHERE tree_id = ? AND kind = ?`,
		string(model.KindTopic), treeID, string(model.KindTopic))
	if err != nil {
		return fmt.Errorf("recomputing topic availability of tree %d: %w", treeID, err)
	}
	return nil
}

func (s *TreeStore) SetLabels(ctx context.Context, nodeID, group string, list []string) error {
	if !slices.Contains(model.LabelGroups, group) {
		return fmt.Errorf("%w: %q", labels.ErrUnknownGroup, group)
	}
	masks, err := s.registry.Encode(group, list)
	if err != nil {
		return err
	}

	sets := []string{group + " = ?"}
	args := []any{labels.JoinList(list)}
	for _, col := range s.registry.Columns(group) {
		sets = append(sets, col+" = ?")
		args = append(args, int64(masks[col]))
	}
	args = append(args, nodeID)

	query := fmt.Sprintf("UPDATE content_contentnode SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("setting %s labels of %s: %w", group, nodeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrNodeNotFound, nodeID)
	}
	return nil
}

func (s *TreeStore) RebuildTree(ctx context.Context, treeID int64) error {
	unlock := s.locks.lock(treeID)
	defer unlock()

	return inTx(ctx, s.db, s.q, func(qtx *queries) error {
		nodes, err := qtx.listNodes(ctx, "n.tree_id = ?", treeID)
		if err != nil {
			return fmt.Errorf("loading tree %d: %w", treeID, err)
		}
		arena, err := tree.NewArena(nodes)
		if err != nil {
			return fmt.Errorf("indexing tree %d: %w", treeID, err)
		}
		rebuilt, err := arena.Rebuild()
		if err != nil {
			return fmt.Errorf("rebuilding tree %d: %w", treeID, err)
		}

		for _, n := range rebuilt {
			if _, err := qtx.db.ExecContext(ctx,
				"UPDATE content_contentnode SET lft = ?, rght = ?, level = ? WHERE id = ?",
				n.Lft, n.Rght, n.Level, n.ID); err != nil {
				return fmt.Errorf("updating coordinates of %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

var _ catalog.TreeStore = (*TreeStore)(nil)
