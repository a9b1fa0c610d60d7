package tree

import (
	"fmt"
	"sort"

	"kc-go/internal/model"
)

// Validate checks the nested-set invariants of a set of nodes: every node
// has lft < rght, lies strictly inside its parent one level deeper, siblings
// never overlap, and each tree uses exactly the coordinates 1..2N.
func Validate(nodes []model.ContentNode) error {
	byTree := make(map[int64][]model.ContentNode)
	for _, n := range nodes {
		byTree[n.TreeID] = append(byTree[n.TreeID], n)
	}

	treeIDs := make([]int64, 0, len(byTree))
	for id := range byTree {
		treeIDs = append(treeIDs, id)
	}
	sort.Slice(treeIDs, func(i, j int) bool { return treeIDs[i] < treeIDs[j] })

	for _, id := range treeIDs {
		if err := validateTree(byTree[id]); err != nil {
			return fmt.Errorf("tree %d: %w", id, err)
		}
	}
	return nil
}

func validateTree(nodes []model.ContentNode) error {
	sorted := append([]model.ContentNode(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lft < sorted[j].Lft })

	var stack []*model.ContentNode
	coords := make([]int64, 0, 2*len(sorted))
	for i := range sorted {
		n := &sorted[i]
		if n.Lft >= n.Rght {
			return fmt.Errorf("%w: node %s has (%d, %d)", ErrInvalidBounds, n.ID, n.Lft, n.Rght)
		}
		coords = append(coords, n.Lft, n.Rght)

		for len(stack) > 0 && stack[len(stack)-1].Rght < n.Lft {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if !n.IsRoot() {
				return fmt.Errorf("%w: node %s lies outside every ancestor", ErrInvalidBounds, n.ID)
			}
			if n.Level != 0 {
				return fmt.Errorf("%w: root %s has level %d", ErrInvalidBounds, n.ID, n.Level)
			}
			if i != 0 {
				return fmt.Errorf("%w: second root %s", ErrInvalidBounds, n.ID)
			}
		} else {
			parent := stack[len(stack)-1]
			if parent.ID != n.ParentID {
				return fmt.Errorf("%w: node %s lies inside %s but its parent is %q", ErrInvalidBounds, n.ID, parent.ID, n.ParentID)
			}
			if n.Rght >= parent.Rght {
				return fmt.Errorf("%w: node %s (%d, %d) overlaps parent %s (%d, %d)",
					ErrInvalidBounds, n.ID, n.Lft, n.Rght, parent.ID, parent.Lft, parent.Rght)
			}
			if n.Level != parent.Level+1 {
				return fmt.Errorf("%w: node %s has level %d under parent level %d", ErrInvalidBounds, n.ID, n.Level, parent.Level)
			}
		}
		stack = append(stack, n)
	}

	sort.Slice(coords, func(i, j int) bool { return coords[i] < coords[j] })
	for i, c := range coords {
		if c != int64(i+1) {
			return fmt.Errorf("%w: coordinates are not contiguous at %d", ErrInvalidBounds, c)
		}
	}
	return nil
}
