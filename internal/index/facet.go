package index

import "sort"

// FacetCount tallies field values across a set of matched documents.
type FacetCount struct {
	Field  string
	Counts []FacetValueCount
}

// FacetValueCount is one value and its occurrence count, highest first.
type FacetValueCount struct {
	Value string
	Count int
}

// FacetCounts computes value tallies for the given facet fields over the
// matched documents. Values are counted once per document occurrence.
func (c *Collection) FacetCounts(facetFields []string, seqs []uint32) []FacetCount {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]FacetCount, 0, len(facetFields))
	for _, fieldName := range facetFields {
		tally := make(map[string]int)
		for _, seq := range seqs {
			doc, ok := c.docs[seq]
			if !ok {
				continue
			}
			for _, v := range stringValues(doc[fieldName]) {
				tally[v]++
			}
		}

		counts := make([]FacetValueCount, 0, len(tally))
		for v, n := range tally {
			counts = append(counts, FacetValueCount{Value: v, Count: n})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].Value < counts[j].Value
		})
		out = append(out, FacetCount{Field: fieldName, Counts: counts})
	}
	return out
}
