package usecase

import (
	"sort"
	"strings"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

// ReduceSearch turns a raw hit search into the single ungrouped group.
// The count is the backend's total; the backlog is the first backlogSize
// messages in backend order.
func ReduceSearch(result *domain.SearchResult, backlogSize int) []domain.GroupResult {
	group := domain.GroupResult{}
	if result != nil {
		group.Count = result.Total
		if n := int64(len(result.Messages)); n > group.Count {
			group.Count = n
		}
		group.Messages = firstMessages(result.Messages, backlogSize)
	}
	return []domain.GroupResult{group}
}

// ReduceTerms turns a terms aggregation over grouping ++ distinction fields into groups.
//
// Without grouping fields every key belongs to the ungrouped group and the count is
// the number of distinct keys. With grouping fields the first len(groupingFields)
// values of each key form the group; the group count is the number of distinct keys
// when distinction fields are set, the summed occurrences otherwise.
// Groups are sorted by key.
func ReduceTerms(result *domain.TermsResult, groupingFields, distinctionFields []string) []domain.GroupResult {
	var terms map[string]int64
	if result != nil {
		terms = result.Terms
	}

	if len(groupingFields) == 0 {
		return []domain.GroupResult{{Count: int64(len(terms))}}
	}

	width := len(groupingFields) + len(distinctionFields)
	groups := make(map[string]*domain.GroupResult)
	for term, occurrences := range terms {
		values := splitTermKey(term, width)
		key := domain.GroupKey(values[:len(groupingFields)])
		id := key.String()
		g, ok := groups[id]
		if !ok {
			g = &domain.GroupResult{Key: key}
			groups[id] = g
		}
		if len(distinctionFields) > 0 {
			g.Count++
		} else {
			g.Count += occurrences
		}
	}

	out := make([]domain.GroupResult, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	SortGroups(out)
	return out
}

// SortGroups orders groups by key for deterministic output.
func SortGroups(groups []domain.GroupResult) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key.String() < groups[j].Key.String()
	})
}

// splitTermKey splits a composite terms key into exactly n values. The last
// value absorbs any extra separators; missing values are empty.
func splitTermKey(term string, n int) []string {
	parts := strings.SplitN(term, domain.TermKeySeparator, n)
	for len(parts) < n {
		parts = append(parts, "")
	}
	return parts
}

func firstMessages(messages []domain.Message, n int) []domain.Message {
	if n <= 0 || len(messages) == 0 {
		return nil
	}
	if len(messages) > n {
		messages = messages[:n]
	}
	return append([]domain.Message(nil), messages...)
}
