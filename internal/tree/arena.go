package tree

import (
	"fmt"
	"sort"

	"kc-go/internal/model"
)

// Arena indexes the nodes of one tree by id so coordinates can be
// recomputed from parent links alone.
type Arena struct {
	nodes    map[string]*model.ContentNode
	children map[string][]string
	root     string
}

// NewArena builds an arena from the nodes of a single tree. Children keep
// the order of their current lft (ties broken by id).
func NewArena(nodes []model.ContentNode) (*Arena, error) {
	a := &Arena{
		nodes:    make(map[string]*model.ContentNode, len(nodes)),
		children: make(map[string][]string),
	}
	for i := range nodes {
		n := nodes[i]
		if _, dup := a.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.ID)
		}
		a.nodes[n.ID] = &n
	}

	for id, n := range a.nodes {
		if n.IsRoot() {
			if a.root != "" {
				return nil, fmt.Errorf("tree has two roots: %s and %s", a.root, id)
			}
			a.root = id
			continue
		}
		if _, ok := a.nodes[n.ParentID]; !ok {
			return nil, fmt.Errorf("node %s references missing parent %s", id, n.ParentID)
		}
		a.children[n.ParentID] = append(a.children[n.ParentID], id)
	}
	if a.root == "" && len(a.nodes) > 0 {
		return nil, fmt.Errorf("tree has no root")
	}

	for parent, kids := range a.children {
		sort.Slice(kids, func(i, j int) bool {
			ni, nj := a.nodes[kids[i]], a.nodes[kids[j]]
			if ni.Lft != nj.Lft {
				return ni.Lft < nj.Lft
			}
			return ni.ID < nj.ID
		})
		a.children[parent] = kids
	}
	return a, nil
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Rebuild recomputes lft, rght and level for every node and returns the
// nodes in preorder. Nodes not reachable from the root (a parent cycle) are
// an error.
func (a *Arena) Rebuild() ([]model.ContentNode, error) {
	if len(a.nodes) == 0 {
		return nil, nil
	}

	out := make([]model.ContentNode, 0, len(a.nodes))
	var walk func(id string, cursor, level int64) int64
	walk = func(id string, cursor, level int64) int64 {
		n := a.nodes[id]
		n.Lft, n.Level = cursor, level
		idx := len(out)
		out = append(out, *n)
		for _, child := range a.children[id] {
			cursor = walk(child, cursor+1, level+1)
		}
		cursor++
		n.Rght = cursor
		out[idx].Rght = cursor
		return cursor
	}
	walk(a.root, 1, 0)

	if len(out) != len(a.nodes) {
		return nil, fmt.Errorf("%d nodes are unreachable from root %s", len(a.nodes)-len(out), a.root)
	}
	return out, nil
}
