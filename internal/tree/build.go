// Package tree holds the nested-set algorithms used by the tree store:
// resolving an insertion point, assigning coordinates to a new subtree,
// validating coordinates, and rebuilding them from parent links.
package tree

import (
	"errors"
	"fmt"

	"kc-go/internal/model"
)

// Position is where a subtree is inserted relative to a target node.
type Position string

const (
	FirstChild Position = "first-child"
	LastChild  Position = "last-child"
	Left       Position = "left"  // sibling before the target
	Right      Position = "right" // sibling after the target
)

var (
	// ErrInvalidPosition is returned for an unknown position, or for a sibling
	// insertion next to a root.
	ErrInvalidPosition = errors.New("invalid insertion position")

	// ErrInvalidBounds is returned when a target's coordinates are not a valid
	// nested-set range.
	ErrInvalidBounds = errors.New("invalid nested-set bounds")
)

// ParsePosition validates a position name.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case FirstChild, LastChild, Left, Right:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPosition, s)
}

// Spec is the nested description of a subtree to insert.
type Spec struct {
	ID        string              `json:"id,omitempty"`
	ContentID string              `json:"content_id,omitempty"`
	ChannelID string              `json:"channel_id,omitempty"`
	Title     string              `json:"title"`
	Kind      model.Kind          `json:"kind"`
	Available bool                `json:"available,omitempty"`
	Labels    map[string][]string `json:"labels,omitempty"`
	Children  []Spec              `json:"children,omitempty"`
}

// Count returns the number of nodes in the subtree.
func (s *Spec) Count() int {
	n := 1
	for i := range s.Children {
		n += s.Children[i].Count()
	}
	return n
}

// Start resolves the initial cursor and depth for inserting next to target.
// A nil target starts a new tree at cursor 1, depth 0.
func Start(target *model.ContentNode, pos Position) (cursor, level int64, err error) {
	if target == nil {
		return 1, 0, nil
	}
	if target.Lft < 1 || target.Lft >= target.Rght {
		return 0, 0, fmt.Errorf("%w: target %s has (%d, %d)", ErrInvalidBounds, target.ID, target.Lft, target.Rght)
	}

	switch pos {
	case FirstChild:
		return target.Lft + 1, target.Level + 1, nil
	case LastChild:
		return target.Rght, target.Level + 1, nil
	case Left, Right:
		if target.IsRoot() {
			return 0, 0, fmt.Errorf("%w: cannot insert %s of root %s", ErrInvalidPosition, pos, target.ID)
		}
		if pos == Left {
			return target.Lft, target.Level, nil
		}
		return target.Rght + 1, target.Level, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPosition, pos)
	}
}

// ParentOf returns the parent id a subtree inserted at pos will hang from.
func ParentOf(target *model.ContentNode, pos Position) string {
	if target == nil {
		return ""
	}
	if pos == Left || pos == Right {
		return target.ParentID
	}
	return target.ID
}

// Layout describes where a subtree is placed.
type Layout struct {
	TreeID    int64
	Cursor    int64
	Level     int64
	ParentID  string
	ChannelID string       // default for nodes that carry none
	NewID     func() string // used for nodes without an id
}

// Assign lays spec out in preorder. The cursor increments by one on entering
// and on leaving every node, so the subtree occupies
// [Cursor, Cursor+2*spec.Count()-1].
func Assign(spec Spec, l Layout) []model.ContentNode {
	nodes := make([]model.ContentNode, 0, spec.Count())
	var walk func(s *Spec, cursor, level int64, parentID, channelID string) int64
	walk = func(s *Spec, cursor, level int64, parentID, channelID string) int64 {
		id := s.ID
		if id == "" {
			id = l.NewID()
		}
		if s.ChannelID != "" {
			channelID = s.ChannelID
		}
		contentID := s.ContentID
		if contentID == "" {
			contentID = id
		}

		idx := len(nodes)
		nodes = append(nodes, model.ContentNode{
			ID:        id,
			ParentID:  parentID,
			ChannelID: channelID,
			ContentID: contentID,
			Title:     s.Title,
			Kind:      s.Kind,
			Available: s.Available,
			TreeID:    l.TreeID,
			Lft:       cursor,
			Level:     level,
			Labels:    s.Labels,
		})
		for i := range s.Children {
			cursor = walk(&s.Children[i], cursor+1, level+1, id, channelID)
		}
		cursor++
		nodes[idx].Rght = cursor
		return cursor
	}
	walk(&spec, l.Cursor, l.Level, l.ParentID, l.ChannelID)
	return nodes
}
