package index

import (
	"strconv"
	"strings"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/token"
)

// filterCond is one parsed `field:value` clause.
type filterCond struct {
	field string
	op    string // "", ">", ">=", "<", "<="
	num   float64
	// values holds the normalized accepted values for equality conditions;
	// more than one when the clause used `[a,b]` list syntax.
	values []string
}

// ParseFilter parses a conjunction of `field:value` clauses joined by `&&`.
// Numeric clauses accept `>`, `>=`, `<`, `<=` prefixes on the value; equality
// clauses accept a single value or a `[a,b]` list.
func (c *Collection) ParseFilter(expr string) ([]filterCond, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var conds []filterCond
	for _, clause := range strings.Split(expr, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, rest, ok := strings.Cut(clause, ":")
		if !ok {
			return nil, domain.NewInvalidArgument("filter clause `%s` is malformed: expected `field:value`", clause)
		}
		name = strings.TrimSpace(name)
		rest = strings.TrimSpace(rest)

		f, found := c.schema.FieldByName(name)
		if !found {
			return nil, domain.NewInvalidArgument("could not find a filter field named `%s` in the schema", name)
		}
		if rest == "" {
			return nil, domain.NewInvalidArgument("filter clause `%s` is missing a value", clause)
		}

		cond := filterCond{field: name}
		if op, numStr := cutComparison(rest); op != "" {
			if !f.IsNumeric() {
				return nil, domain.NewInvalidArgument("numeric comparison is not valid for field `%s`", name)
			}
			n, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
			if err != nil {
				return nil, domain.NewInvalidArgument("filter value for field `%s` must be a number", name)
			}
			cond.op = op
			cond.num = n
		} else if strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") {
			for _, v := range strings.Split(rest[1:len(rest)-1], ",") {
				if trimmed := strings.TrimSpace(v); trimmed != "" {
					cond.values = append(cond.values, normalizeFilterValue(trimmed))
				}
			}
			if len(cond.values) == 0 {
				return nil, domain.NewInvalidArgument("filter clause `%s` has an empty value list", clause)
			}
		} else {
			cond.values = []string{normalizeFilterValue(rest)}
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func cutComparison(rest string) (op, value string) {
	switch {
	case strings.HasPrefix(rest, ">="):
		return ">=", rest[2:]
	case strings.HasPrefix(rest, "<="):
		return "<=", rest[2:]
	case strings.HasPrefix(rest, ">"):
		return ">", rest[1:]
	case strings.HasPrefix(rest, "<"):
		return "<", rest[1:]
	default:
		return "", rest
	}
}

func normalizeFilterValue(v string) string {
	return token.Join(token.Tokenize(v))
}

// EvalFilter returns the set of sequence ids matching the expression; all
// clauses must hold (logical AND).
func (c *Collection) EvalFilter(expr string) (map[uint32]struct{}, error) {
	conds, err := c.ParseFilter(expr)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[uint32]struct{})
	for seq, doc := range c.docs {
		if c.matches(doc, conds) {
			out[seq] = struct{}{}
		}
	}
	return out, nil
}

func (c *Collection) matches(doc map[string]any, conds []filterCond) bool {
	for _, cond := range conds {
		v, present := doc[cond.field]
		if !present {
			return false
		}
		if cond.op != "" {
			n, ok := asNumber(v)
			if !ok || !compareNumber(n, cond.op, cond.num) {
				return false
			}
			continue
		}
		if !containsValue(stringValues(v), cond.values) {
			return false
		}
	}
	return true
}

func compareNumber(n float64, op string, bound float64) bool {
	switch op {
	case ">":
		return n > bound
	case ">=":
		return n >= bound
	case "<":
		return n < bound
	case "<=":
		return n <= bound
	default:
		return false
	}
}

func containsValue(have []string, want []string) bool {
	for _, h := range have {
		normalized := normalizeFilterValue(h)
		for _, w := range want {
			if normalized == w {
				return true
			}
		}
	}
	return false
}
