package domain

import "sort"

// AddHistogram adds every bucket of src into dst and returns dst, allocating
// it when nil.
func AddHistogram(dst, src map[int]int64) map[int]int64 {
	if dst == nil {
		dst = make(map[int]int64, len(src))
	}
	for year, n := range src {
		dst[year] += n
	}
	return dst
}

// UnionConcepts merges concept lists by id (name when the id is empty),
// keeping the highest score. The result is ordered by score descending,
// then name.
func UnionConcepts(lists ...[]Concept) []Concept {
	byKey := make(map[string]Concept)
	for _, list := range lists {
		for _, c := range list {
			key := c.ID
			if key == "" {
				key = c.Name
			}
			if key == "" {
				continue
			}
			if existing, ok := byKey[key]; !ok || c.Score > existing.Score {
				byKey[key] = c
			}
		}
	}

	out := make([]Concept, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}
