package search

import (
	"sort"
	"strings"

	"github.com/kailas-cloud/textdex/internal/domain/geo"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
	"github.com/kailas-cloud/textdex/internal/domain/search/result"
	"github.com/kailas-cloud/textdex/internal/domain/search/sortkey"
	"github.com/kailas-cloud/textdex/internal/index"
)

// sortValue is one precomputed comparable; absent values sort after all
// present ones regardless of direction.
type sortValue struct {
	num     float64
	present bool
}

// rankDocs orders the matched documents by the sort keys in sequence, with
// the ascending internal sequence id as the final tie-break.
func rankDocs(col *index.Collection, scores map[uint32]uint64, keys []sortkey.Key) []uint32 {
	seqs := make([]uint32, 0, len(scores))
	for seq := range scores {
		seqs = append(seqs, seq)
	}

	// Precompute per-key values once; geo distances collapse through
	// exclude-radius and precision bucketing here.
	values := make([]map[uint32]sortValue, len(keys))
	for i, k := range keys {
		vals := make(map[uint32]sortValue, len(seqs))
		for _, seq := range seqs {
			vals[seq] = sortValueFor(col, k, seq, scores)
		}
		values[i] = vals
	}

	sort.Slice(seqs, func(i, j int) bool {
		a, b := seqs[i], seqs[j]
		for ki, k := range keys {
			av, bv := values[ki][a], values[ki][b]
			switch {
			case av.present && !bv.present:
				return true
			case !av.present && bv.present:
				return false
			case !av.present && !bv.present:
				continue
			}
			if av.num != bv.num {
				if k.Desc() {
					return av.num > bv.num
				}
				return av.num < bv.num
			}
		}
		return a < b
	})

	return seqs
}

func sortValueFor(col *index.Collection, k sortkey.Key, seq uint32, scores map[uint32]uint64) sortValue {
	switch k.Kind() {
	case sortkey.TextMatch:
		return sortValue{num: float64(scores[seq]), present: true}
	case sortkey.Geo:
		point, ok := col.GeoPoint(seq, k.Field())
		if !ok {
			return sortValue{}
		}
		dist := geo.Distance(k.Anchor(), point)
		return sortValue{num: float64(k.GeoValue(dist)), present: true}
	default:
		num, ok := col.NumericValue(seq, k.Field())
		if !ok {
			return sortValue{}
		}
		return sortValue{num: num, present: true}
	}
}

// applyPins removes pinned documents from the ranked list and reinserts them
// at their 1-based positions, displacing lower-ranked hits downward. A
// position beyond the final list length appends. Pinned documents need not
// match the query; unknown ids are skipped. The score map gains zero entries
// for injected documents so later stages can render them.
func applyPins(col *index.Collection, ranked []uint32, pins []param.Pin, scores map[uint32]uint64) []uint32 {
	if len(pins) == 0 {
		return ranked
	}

	type resolvedPin struct {
		seq uint32
		pos int
	}
	pinned := make(map[uint32]bool, len(pins))
	resolved := make([]resolvedPin, 0, len(pins))
	for _, p := range pins {
		seq, ok := col.SeqID(p.ID)
		if !ok || pinned[seq] {
			continue
		}
		pinned[seq] = true
		resolved = append(resolved, resolvedPin{seq: seq, pos: p.Position})
		if _, ok := scores[seq]; !ok {
			scores[seq] = 0
		}
	}
	if len(resolved) == 0 {
		return ranked
	}

	out := make([]uint32, 0, len(ranked)+len(resolved))
	for _, seq := range ranked {
		if !pinned[seq] {
			out = append(out, seq)
		}
	}

	// Positions ascending; equal positions keep their order in the pinned
	// list, so the first one claims the slot.
	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].pos < resolved[j].pos })
	prevPos, prevIdx := 0, -1
	for _, p := range resolved {
		idx := p.pos - 1
		if p.pos == prevPos {
			idx = prevIdx + 1
		}
		if idx > len(out) {
			idx = len(out)
		}
		prevPos, prevIdx = p.pos, idx
		out = append(out, 0)
		copy(out[idx+1:], out[idx:])
		out[idx] = p.seq
	}

	return out
}

func paginate(ranked []uint32, page, perPage int) []uint32 {
	start := (page - 1) * perPage
	if start >= len(ranked) {
		return nil
	}
	end := start + perPage
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[start:end]
}

func buildHits(col *index.Collection, seqs []uint32, scores map[uint32]uint64) []result.Hit {
	hits := make([]result.Hit, 0, len(seqs))
	for _, seq := range seqs {
		doc, ok := col.Document(seq)
		if !ok {
			continue
		}
		hits = append(hits, result.Hit{
			ID:        col.ExternalID(seq),
			Document:  doc,
			TextMatch: scores[seq],
		})
	}
	return hits
}

func facetCounts(col *index.Collection, fields []string, ranked []uint32) []result.FacetCount {
	raw := col.FacetCounts(fields, ranked)
	out := make([]result.FacetCount, 0, len(raw))
	for _, fc := range raw {
		counts := make([]result.FacetValue, 0, len(fc.Counts))
		for _, vc := range fc.Counts {
			counts = append(counts, result.FacetValue{Value: vc.Value, Count: vc.Count})
		}
		out = append(out, result.FacetCount{FieldName: fc.Field, Counts: counts})
	}
	return out
}

// groupHits partitions the ranked list by the group-by field's value tuple.
// Groups are ordered by the rank of their best hit and emit up to groupLimit
// hits each. Pinned hits sharing a position land in the group keyed by the
// first pinned id of that position.
func groupHits(
	col *index.Collection, ranked []uint32, groupBy string, groupLimit int,
	pins []param.Pin, scores map[uint32]uint64,
) []result.Group {
	pinKey := pinnedGroupKeys(col, pins, groupBy)

	var groups []result.Group
	byKey := make(map[string]int)

	for _, seq := range ranked {
		keyVals, ok := pinKey[seq]
		if !ok {
			keyVals = col.FieldValues(seq, groupBy)
		}
		mapKey := strings.Join(keyVals, "\x00")

		gi, exists := byKey[mapKey]
		if !exists {
			gi = len(groups)
			byKey[mapKey] = gi
			groups = append(groups, result.Group{GroupKey: keyVals})
		}
		if len(groups[gi].Hits) >= groupLimit {
			continue
		}
		doc, ok := col.Document(seq)
		if !ok {
			continue
		}
		groups[gi].Hits = append(groups[gi].Hits, result.Hit{
			ID:        col.ExternalID(seq),
			Document:  doc,
			TextMatch: scores[seq],
		})
	}

	return groups
}

// pinnedGroupKeys forces pins at the same position into one group: every pin
// at a position inherits the group key of the first pin at that position.
func pinnedGroupKeys(col *index.Collection, pins []param.Pin, groupBy string) map[uint32][]string {
	out := make(map[uint32][]string)
	firstAt := make(map[int][]string)
	for _, p := range pins {
		seq, ok := col.SeqID(p.ID)
		if !ok {
			continue
		}
		key, seen := firstAt[p.Position]
		if !seen {
			key = col.FieldValues(seq, groupBy)
			firstAt[p.Position] = key
		}
		out[seq] = key
	}
	return out
}

func paginateGroups(groups []result.Group, page, perPage int) []result.Group {
	start := (page - 1) * perPage
	if start >= len(groups) {
		return nil
	}
	end := start + perPage
	if end > len(groups) {
		end = len(groups)
	}
	return groups[start:end]
}
