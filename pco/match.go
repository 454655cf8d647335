package pco

import (
	"context"
	"sort"
	"strings"
)

// Match scores. Non-matches are excluded entirely.
const (
	scoreExact    = 3
	scorePrefix   = 2
	scoreContains = 1
)

// sequenceSentinel sorts service types without a sequence after everything
// else.
const sequenceSentinel = int(^uint(0) >> 1)

// MatchServiceTypes ranks service types against a query, best first: exact
// case-insensitive name match, then prefix, then substring. Ties break by
// ascending sequence, missing sequence last. The sort is stable, so equally
// ranked items keep their input order.
func MatchServiceTypes(items []ServiceType, query string) []ServiceType {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	type ranked struct {
		item  ServiceType
		score int
		seq   int
	}

	matches := []ranked{}
	for _, item := range items {
		name := strings.ToLower(item.Name)

		var score int
		switch {
		case name == q:
			score = scoreExact
		case strings.HasPrefix(name, q):
			score = scorePrefix
		case strings.Contains(name, q):
			score = scoreContains
		default:
			continue
		}

		seq := sequenceSentinel
		if item.Sequence != nil {
			seq = *item.Sequence
		}
		matches = append(matches, ranked{item: item, score: score, seq: seq})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].seq < matches[j].seq
	})

	out := make([]ServiceType, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.item)
	}
	return out
}

// ResolveDefaultServiceType picks the service type to use when a request
// names none: a configured id wins outright; otherwise a configured name is
// matched against the live service-type list and the top hit is taken. An
// empty result means the caller must demand an explicit parameter.
func (c *Client) ResolveDefaultServiceType(ctx context.Context, defaultID, defaultName string) (string, error) {
	if defaultID != "" {
		return defaultID, nil
	}
	if defaultName == "" {
		return "", nil
	}

	items, err := c.ListServiceTypes(ctx, DefaultServiceTypePageSize, DefaultServiceTypeMaxPages)
	if err != nil {
		return "", err
	}

	matches := MatchServiceTypes(items, defaultName)
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0].ID, nil
}
