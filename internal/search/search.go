// Package search narrows content node result sets by fuzzy title matching.
package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"kc-go/internal/model"
)

// RankTitles keeps the nodes whose title fuzzy-matches query, best match
// first. Matching ignores case and diacritics. Ties keep the input order.
// An empty query returns nodes unchanged.
func RankTitles(nodes []model.ContentNode, query string) []model.ContentNode {
	query = strings.TrimSpace(query)
	if query == "" || len(nodes) == 0 {
		return nodes
	}

	titles := make([]string, len(nodes))
	for i, n := range nodes {
		titles[i] = n.Title
	}

	matches := fuzzy.RankFindNormalizedFold(query, titles)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].OriginalIndex < matches[j].OriginalIndex
	})

	out := make([]model.ContentNode, 0, len(matches))
	for _, m := range matches {
		out = append(out, nodes[m.OriginalIndex])
	}
	return out
}
