// Package labels maps human readable labels onto bitmask columns of content
// nodes and evaluates label membership predicates against those columns.
//
// Each label of a group is assigned one bit in one of the group's bitmask
// columns. A column holds at most 64 labels; a group that outgrows its
// columns needs another column (and a migration), and building the registry
// fails until that column exists.
package labels

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"kc-go/internal/model"
)

// ColumnCapacity is the number of labels one bitmask column can hold.
const ColumnCapacity = 64

var (
	// ErrUnknownGroup is returned for a label group the registry does not know.
	ErrUnknownGroup = errors.New("unknown label group")

	// ErrUnknownLabel is returned when encoding a label that is not registered.
	ErrUnknownLabel = errors.New("unknown label")
)

// Assignment locates one label: the column holding it and its bit weight.
type Assignment struct {
	Column string
	Bits   uint64
}

// Registry is an injective label -> (column, bit) mapping, grouped by label
// group. It is immutable once built and safe for concurrent use.
type Registry struct {
	groups  map[string]map[string]Assignment
	labels  map[string][]string // group -> labels in registration order
	columns map[string][]string // group -> columns in use, sorted
}

// ColumnName returns the name of the n-th bitmask column of a group.
func ColumnName(group string, n int) string {
	return fmt.Sprintf("%s_bitmask_%d", group, n)
}

// Build assigns bits to ordered label lists: label i of a group lands in
// column ColumnName(group, i/64) with weight 1<<(i%64). Every derived column
// must appear in knownColumns.
func Build(groups map[string][]string, knownColumns []string) (*Registry, error) {
	known := make(map[string]bool, len(knownColumns))
	for _, c := range knownColumns {
		known[c] = true
	}

	assignments := make(map[string]map[string]Assignment, len(groups))
	order := make(map[string][]string, len(groups))
	for group, names := range groups {
		assigned := make(map[string]Assignment, len(names))
		for i, label := range names {
			if _, dup := assigned[label]; dup {
				return nil, fmt.Errorf("label %q registered twice in group %q", label, group)
			}
			column := ColumnName(group, i/ColumnCapacity)
			if !known[column] {
				return nil, fmt.Errorf("group %q needs column %s for label %q: column does not exist (capacity %d per column)",
					group, column, label, ColumnCapacity)
			}
			assigned[label] = Assignment{Column: column, Bits: 1 << uint(i%ColumnCapacity)}
		}
		assignments[group] = assigned
		order[group] = append([]string(nil), names...)
	}

	return newRegistry(assignments, order)
}

// NewRegistry builds a registry from explicit assignments. Every assignment
// must carry exactly one set bit, and no two labels may share a bit of the
// same column.
func NewRegistry(assignments map[string]map[string]Assignment) (*Registry, error) {
	order := make(map[string][]string, len(assignments))
	for group, assigned := range assignments {
		names := make([]string, 0, len(assigned))
		for label := range assigned {
			names = append(names, label)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := assigned[names[i]], assigned[names[j]]
			if a.Column != b.Column {
				return a.Column < b.Column
			}
			return a.Bits < b.Bits
		})
		order[group] = names
	}
	return newRegistry(assignments, order)
}

func newRegistry(assignments map[string]map[string]Assignment, order map[string][]string) (*Registry, error) {
	r := &Registry{
		groups:  make(map[string]map[string]Assignment, len(assignments)),
		labels:  order,
		columns: make(map[string][]string, len(assignments)),
	}

	used := make(map[string]uint64) // column -> bits already taken
	for group, assigned := range assignments {
		cols := make(map[string]bool)
		copied := make(map[string]Assignment, len(assigned))
		for label, a := range assigned {
			if a.Column == "" {
				return nil, fmt.Errorf("label %q in group %q has no column", label, group)
			}
			if bits.OnesCount64(a.Bits) != 1 {
				return nil, fmt.Errorf("label %q in group %q must use exactly one bit, got %#x", label, group, a.Bits)
			}
			if used[a.Column]&a.Bits != 0 {
				return nil, fmt.Errorf("label %q in group %q reuses bit %#x of column %s", label, group, a.Bits, a.Column)
			}
			used[a.Column] |= a.Bits
			cols[a.Column] = true
			copied[label] = a
		}
		r.groups[group] = copied
		for c := range cols {
			r.columns[group] = append(r.columns[group], c)
		}
		sort.Strings(r.columns[group])
	}
	return r, nil
}

// Lookup returns the assignment of a label within a group.
func (r *Registry) Lookup(group, label string) (Assignment, bool) {
	a, ok := r.groups[group][label]
	return a, ok
}

// Groups returns the registered group names, sorted.
func (r *Registry) Groups() []string {
	names := make([]string, 0, len(r.groups))
	for g := range r.groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// Labels returns the labels of a group in registration order.
func (r *Registry) Labels(group string) []string {
	return append([]string(nil), r.labels[group]...)
}

// Columns returns the bitmask columns used by a group, sorted.
func (r *Registry) Columns(group string) []string {
	return append([]string(nil), r.columns[group]...)
}

// HasAllLabels builds the predicate for a multi-label query on a group.
//
// Requested labels are partitioned by column and their bits ORed per column.
// A node matches when, for every column present in the request, the node's
// column value shares at least one bit with that column's mask. So labels in
// the same column are alternatives and different columns are all required.
// Labels the registry does not know are ignored.
func (r *Registry) HasAllLabels(group string, requested []string) (Predicate, error) {
	assigned, ok := r.groups[group]
	if !ok {
		return Predicate{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	masks := make(map[string]uint64)
	for _, label := range requested {
		if a, ok := assigned[label]; ok {
			masks[a.Column] |= a.Bits
		}
	}
	return newPredicate(masks), nil
}

// Encode computes the values of every column of a group for a label set.
// Columns of the group without any of the labels are returned as zero so the
// result can overwrite previously stored values.
func (r *Registry) Encode(group string, labels []string) (model.Bitmasks, error) {
	assigned, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	out := make(model.Bitmasks, len(r.columns[group]))
	for _, c := range r.columns[group] {
		out[c] = 0
	}
	for _, label := range labels {
		a, ok := assigned[label]
		if !ok {
			return nil, fmt.Errorf("%w: %q in group %s", ErrUnknownLabel, label, group)
		}
		out[a.Column] |= a.Bits
	}
	return out, nil
}

// Decode lists the labels of a group whose bits are set, in registration order.
func (r *Registry) Decode(group string, values model.Bitmasks) []string {
	var out []string
	for _, label := range r.labels[group] {
		a := r.groups[group][label]
		if values[a.Column]&a.Bits != 0 {
			out = append(out, label)
		}
	}
	return out
}

// ParseList splits a comma separated label list as stored in label columns.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinList is the inverse of ParseList.
func JoinList(labels []string) string {
	return strings.Join(labels, ",")
}
