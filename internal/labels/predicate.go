package labels

import (
	"sort"
	"strings"

	"kc-go/internal/model"
)

// ColumnMask is the combined mask requested for one bitmask column.
type ColumnMask struct {
	Column string
	Mask   uint64
}

// Predicate is a conjunction of per-column "shares a bit with mask" tests.
// The zero Predicate matches every node.
type Predicate struct {
	masks []ColumnMask // sorted by column
}

func newPredicate(masks map[string]uint64) Predicate {
	p := Predicate{masks: make([]ColumnMask, 0, len(masks))}
	for c, m := range masks {
		p.masks = append(p.masks, ColumnMask{Column: c, Mask: m})
	}
	sort.Slice(p.masks, func(i, j int) bool { return p.masks[i].Column < p.masks[j].Column })
	return p
}

// Empty reports whether the predicate constrains nothing.
func (p Predicate) Empty() bool {
	return len(p.masks) == 0
}

// Masks returns the per-column masks, sorted by column.
func (p Predicate) Masks() []ColumnMask {
	return append([]ColumnMask(nil), p.masks...)
}

// Matches evaluates the predicate against a node's bitmask values.
func (p Predicate) Matches(values model.Bitmasks) bool {
	for _, m := range p.masks {
		if values[m.Column]&m.Mask == 0 {
			return false
		}
	}
	return true
}

// SQL renders the predicate as a WHERE fragment with positional arguments.
// Masks are passed as int64 since SQLite integers are signed 64-bit; the bit
// pattern is unchanged. Column names come from the registry, never from
// user input. An empty predicate renders as an empty string.
func (p Predicate) SQL() (string, []any) {
	if p.Empty() {
		return "", nil
	}
	clauses := make([]string, len(p.masks))
	args := make([]any, len(p.masks))
	for i, m := range p.masks {
		clauses[i] = "(" + m.Column + " & ?) != 0"
		args[i] = int64(m.Mask)
	}
	return strings.Join(clauses, " AND "), args
}
