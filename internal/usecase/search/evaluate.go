package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/textdex/internal/index"
)

// Match qualities packed into the `_text_match` score. Exact beats a single
// typo, which beats a prefix completion, which beats a double typo.
const (
	qualityExact  = 6
	qualityTypo1  = 4
	qualityPrefix = 3
	qualityTypo2  = 2
)

type evalOptions struct {
	wildcard      bool
	prefix        bool
	numTypos      int
	dropThreshold int
	freqOrdered   bool
}

// evaluate scores every document matching any candidate token sequence.
// Candidates are independent and evaluated concurrently; a document hit by
// several candidates keeps its best score, so synonym matches rank on par
// with direct matches.
func (s *Service) evaluate(
	ctx context.Context, col *index.Collection,
	candidates [][]string, fields []string, opts evalOptions,
) (map[uint32]uint64, error) {
	if opts.wildcard {
		scores := make(map[uint32]uint64)
		for _, seq := range col.AllSeqIDs() {
			scores[seq] = 0
		}
		return scores, nil
	}

	results := make([]map[uint32]uint64, len(candidates))
	g, _ := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			results[i] = evaluateCandidate(col, cand, fields, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[uint32]uint64)
	for _, m := range results {
		for seq, score := range m {
			if score > merged[seq] {
				merged[seq] = score
			}
		}
	}
	return merged, nil
}

// evaluateCandidate evaluates one token sequence, dropping trailing tokens
// (up to the threshold) when the full conjunction matches nothing.
func evaluateCandidate(col *index.Collection, tokens, fields []string, opts evalOptions) map[uint32]uint64 {
	fullLen := len(tokens)
	remaining := tokens
	dropped := 0

	for {
		scores := matchConjunction(col, remaining, fields, opts, fullLen)
		if len(scores) > 0 || len(remaining) <= 1 || dropped >= opts.dropThreshold {
			return scores
		}
		remaining = remaining[:len(remaining)-1]
		dropped++
	}
}

// matchConjunction finds documents containing every token in at least one
// queried field and packs their `_text_match` scores. Earlier fields in the
// query_by list contribute a higher field bonus.
func matchConjunction(
	col *index.Collection, tokens, fields []string, opts evalOptions, fullLen int,
) map[uint32]uint64 {
	result := make(map[uint32]uint64)

	for fieldIdx, fieldName := range fields {
		var fieldDocs map[uint32]int // doc -> summed token quality

		for _, tok := range tokens {
			cands := expandToken(col, fieldName, tok, opts)
			tokDocs := make(map[uint32]int)
			for _, c := range cands {
				q := quality(c)
				for _, seq := range col.PostingDocs(fieldName, c.Token) {
					if q > tokDocs[seq] {
						tokDocs[seq] = q
					}
				}
			}

			if fieldDocs == nil {
				fieldDocs = tokDocs
			} else {
				for seq, sum := range fieldDocs {
					if q, ok := tokDocs[seq]; ok {
						fieldDocs[seq] = sum + q
					} else {
						delete(fieldDocs, seq)
					}
				}
			}
			if len(fieldDocs) == 0 {
				break
			}
		}

		for seq, qualitySum := range fieldDocs {
			score := packScore(len(tokens), fullLen, qualitySum, fieldIdx)
			if score > result[seq] {
				result[seq] = score
			}
		}
	}

	return result
}

// expandToken expands one query token within a field. When the collection
// has no default sorting field, expansions are ordered by descending document
// frequency and truncated so low-frequency expansions cannot appear.
func expandToken(col *index.Collection, fieldName, tok string, opts evalOptions) []index.Candidate {
	cands := col.ExpandToken(fieldName, tok, opts.prefix, opts.numTypos, prefixExpansionCap)
	if !opts.freqOrdered || len(cands) <= freqOrderedExpansionCap {
		return cands
	}

	// The exact term always survives; only the expansions compete for the
	// frequency-ordered slots.
	out := make([]index.Candidate, 0, freqOrderedExpansionCap+1)
	rest := make([]index.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Distance == 0 && !c.Prefix {
			out = append(out, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].DocFreq > rest[j].DocFreq })
	if len(rest) > freqOrderedExpansionCap {
		rest = rest[:freqOrderedExpansionCap]
	}
	return append(out, rest...)
}

func quality(c index.Candidate) int {
	switch {
	case c.Distance == 0 && !c.Prefix:
		return qualityExact
	case c.Prefix:
		return qualityPrefix
	case c.Distance == 1:
		return qualityTypo1
	default:
		return qualityTypo2
	}
}

// packScore folds the match signals into a comparable 64-bit value:
// query coverage (matched tokens over the candidate's full length) dominates,
// then token-level quality, then the query-field priority bonus.
func packScore(matched, fullLen, qualitySum, fieldIdx int) uint64 {
	coverage := uint64(matched * 255 / fullLen)
	q := uint64(qualitySum)
	if q > 0xFFFF {
		q = 0xFFFF
	}
	bonus := uint64(0)
	if fieldIdx < 0xFF {
		bonus = uint64(0xFF - fieldIdx)
	}
	return coverage<<40 | q<<24 | bonus<<16
}
