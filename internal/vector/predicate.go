package vector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Op string

const (
	OpAnd      Op = "$and"
	OpOr       Op = "$or"
	OpEq       Op = "$eq"
	OpIn       Op = "$in"
	OpGte      Op = "$gte"
	OpLte      Op = "$lte"
	OpContains Op = "$contains"
	// OpInFold is $in with case-insensitive comparison.
	OpInFold Op = "$in_fold"
)

// Predicate is a filter over record metadata (field ops) or record text ($contains).
// The zero value matches everything.
type Predicate struct {
	Op       Op
	Field    string
	Value    any
	Children []Predicate
}

func (p Predicate) IsZero() bool { return p.Op == "" }

func Eq(field string, v any) Predicate { return Predicate{Op: OpEq, Field: field, Value: v} }

func Gte(field string, v int) Predicate { return Predicate{Op: OpGte, Field: field, Value: v} }

func Lte(field string, v int) Predicate { return Predicate{Op: OpLte, Field: field, Value: v} }

func In(field string, vals ...string) Predicate {
	return Predicate{Op: OpIn, Field: field, Value: append([]string(nil), vals...)}
}

func InFold(field string, vals ...string) Predicate {
	return Predicate{Op: OpInFold, Field: field, Value: append([]string(nil), vals...)}
}

func Contains(text string) Predicate { return Predicate{Op: OpContains, Value: text} }

func And(ps ...Predicate) Predicate { return combine(OpAnd, ps) }

func Or(ps ...Predicate) Predicate { return combine(OpOr, ps) }

func combine(op Op, ps []Predicate) Predicate {
	kept := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		if !p.IsZero() {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return Predicate{}
	case 1:
		return kept[0]
	}
	return Predicate{Op: op, Children: kept}
}

// MarshalJSON renders the Chroma-style filter document, e.g.
// {"$and":[{"year":{"$gte":2000}},{"year":{"$lte":2010}}]}.
func (p Predicate) MarshalJSON() ([]byte, error) {
	switch p.Op {
	case "":
		return []byte("{}"), nil
	case OpAnd, OpOr:
		return json.Marshal(map[string]any{string(p.Op): p.Children})
	case OpContains:
		return json.Marshal(map[string]any{string(OpContains): p.Value})
	default:
		return json.Marshal(map[string]any{p.Field: map[string]any{string(p.Op): p.Value}})
	}
}

func (p Predicate) String() string {
	b, err := p.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid predicate: %v>", err)
	}
	return string(b)
}

// Match evaluates p against a record in memory.
func (p Predicate) Match(meta Metadata, text string) bool {
	switch p.Op {
	case "":
		return true
	case OpAnd:
		for _, c := range p.Children {
			if !c.Match(meta, text) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if c.Match(meta, text) {
				return true
			}
		}
		return false
	case OpContains:
		return strings.Contains(text, toString(p.Value))
	case OpEq:
		return toString(meta[p.Field]) == toString(p.Value)
	case OpIn:
		got := toString(meta[p.Field])
		for _, v := range toStrings(p.Value) {
			if got == v {
				return true
			}
		}
		return false
	case OpInFold:
		got := toString(meta[p.Field])
		for _, v := range toStrings(p.Value) {
			if strings.EqualFold(got, v) {
				return true
			}
		}
		return false
	case OpGte, OpLte:
		got, ok := toFloat(meta[p.Field])
		if !ok {
			return false
		}
		want, ok := toFloat(p.Value)
		if !ok {
			return false
		}
		if p.Op == OpGte {
			return got >= want
		}
		return got <= want
	default:
		return false
	}
}

// SQL compiles p into a WHERE fragment over a jsonb metadata column and a
// text column. Field names are bound as parameters.
func (p Predicate) SQL(args *[]any, metaCol, textCol string) (string, error) {
	bind := func(v any) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}
	switch p.Op {
	case "":
		return "TRUE", nil
	case OpAnd, OpOr:
		parts := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			s, err := c.SQL(args, metaCol, textCol)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		joiner := " AND "
		if p.Op == OpOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	case OpContains:
		return fmt.Sprintf("strpos(%s, %s) > 0", textCol, bind(toString(p.Value))), nil
	case OpEq:
		return fmt.Sprintf("(%s->>%s) = %s", metaCol, bind(p.Field), bind(toString(p.Value))), nil
	case OpIn:
		return fmt.Sprintf("(%s->>%s) = ANY(%s)", metaCol, bind(p.Field), bind(toStrings(p.Value))), nil
	case OpInFold:
		vals := toStrings(p.Value)
		lowered := make([]string, 0, len(vals))
		for _, v := range vals {
			lowered = append(lowered, strings.ToLower(v))
		}
		return fmt.Sprintf("lower(%s->>%s) = ANY(%s)", metaCol, bind(p.Field), bind(lowered)), nil
	case OpGte, OpLte:
		want, ok := toFloat(p.Value)
		if !ok {
			return "", fmt.Errorf("predicate %s on %q needs a numeric value, got %T", p.Op, p.Field, p.Value)
		}
		cmp := ">="
		if p.Op == OpLte {
			cmp = "<="
		}
		return fmt.Sprintf("(%s->>%s)::numeric %s %s", metaCol, bind(p.Field), cmp, bind(want)), nil
	default:
		return "", fmt.Errorf("unsupported predicate op %q", p.Op)
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, toString(e))
		}
		return out
	default:
		return []string{toString(v)}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
