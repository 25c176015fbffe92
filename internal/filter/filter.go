// Package filter compiles the predicate DSL used by select/update into a
// closure tree that can be evaluated against a record without re-walking
// or re-parsing the filter on every call.
package filter

import (
	"regexp"
	"strings"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
)

// Filter is the raw, JSON-shaped predicate tree a caller supplies. Operator
// keys may be written with or without the "$" wire-protocol prefix.
type Filter map[string]any

// Operator is one leaf comparison.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
	OpNin Operator = "nin"
	OpLike Operator = "like"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpLike: true,
}

func normalizeKey(key string) string {
	return strings.TrimPrefix(key, "$")
}

// predicate tests a single field's value once it has been looked up.
type predicate func(value any) bool

// Compiled is a filter tree reduced to one closure. Match is pure and
// deterministic.
type Compiled struct {
	match func(rec kvtypes.Record) bool
}

// Match evaluates the compiled filter against a record.
func (c *Compiled) Match(rec kvtypes.Record) bool {
	if c == nil || c.match == nil {
		return true
	}
	return c.match(rec)
}

// Match is a convenience free function wrapping Compiled.Match.
func Match(rec kvtypes.Record, c *Compiled) bool {
	return c.Match(rec)
}

// Compile walks the filter tree once and resolves every operator to a
// dispatched comparison function, flattening per-field conjunctions.
func Compile(f Filter) (*Compiled, error) {
	if len(f) == 0 {
		return &Compiled{match: func(kvtypes.Record) bool { return true }}, nil
	}
	m, err := compileObject(f)
	if err != nil {
		return nil, err
	}
	return &Compiled{match: m}, nil
}

func compileAny(raw any) (func(kvtypes.Record) bool, error) {
	switch v := raw.(type) {
	case Filter:
		return compileObject(v)
	case map[string]any:
		return compileObject(Filter(v))
	default:
		return nil, kvtypes.NewInvalidFilter("expected a filter object, got %T", raw)
	}
}

func compileObject(f Filter) (func(kvtypes.Record) bool, error) {
	var clauses []func(kvtypes.Record) bool

	for key, val := range f {
		switch normalizeKey(key) {
		case "and":
			list, ok := val.([]any)
			if !ok {
				return nil, kvtypes.NewInvalidFilter("\"and\" operand must be a list")
			}
			sub, err := compileList(list)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, func(rec kvtypes.Record) bool {
				for _, m := range sub {
					if !m(rec) {
						return false
					}
				}
				return true
			})
		case "or":
			list, ok := val.([]any)
			if !ok {
				return nil, kvtypes.NewInvalidFilter("\"or\" operand must be a list")
			}
			sub, err := compileList(list)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, func(rec kvtypes.Record) bool {
				for _, m := range sub {
					if m(rec) {
						return true
					}
				}
				return false
			})
		case "not":
			sub, err := compileAny(val)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, func(rec kvtypes.Record) bool { return !sub(rec) })
		default:
			// A field key: either a bare scalar (sugar for {eq: v}) or an
			// object of operator->operand pairs, all conjoined for this field.
			field := key
			preds, err := compileFieldValue(val)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, func(rec kvtypes.Record) bool {
				fv, present := rec[field]
				if !present {
					fv = nil
				}
				for _, p := range preds {
					if !p(fv) {
						return false
					}
				}
				return true
			})
		}
	}

	return func(rec kvtypes.Record) bool {
		for _, c := range clauses {
			if !c(rec) {
				return false
			}
		}
		return true
	}, nil
}

func compileList(list []any) ([]func(kvtypes.Record) bool, error) {
	out := make([]func(kvtypes.Record) bool, 0, len(list))
	for _, item := range list {
		m, err := compileAny(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// compileFieldValue handles both sugar forms: a bare scalar ({field: v}, sugar
// for {field: {eq: v}}) and an operator object ({field: {gte: 1, lte: 5}}).
func compileFieldValue(val any) ([]predicate, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		if filterObj, ok2 := val.(Filter); ok2 {
			obj = filterObj
		} else {
			p, err := compileOperator(OpEq, val)
			if err != nil {
				return nil, err
			}
			return []predicate{p}, nil
		}
	}

	preds := make([]predicate, 0, len(obj))
	for opKey, operand := range obj {
		op := Operator(normalizeKey(opKey))
		if !knownOperators[op] {
			return nil, kvtypes.NewInvalidFilter("unknown operator %q", opKey)
		}
		p, err := compileOperator(op, operand)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func compileOperator(op Operator, operand any) (predicate, error) {
	switch op {
	case OpEq:
		return func(v any) bool { return equalPrimitive(v, operand) }, nil
	case OpNe:
		return func(v any) bool { return !equalPrimitive(v, operand) }, nil
	case OpGt:
		return func(v any) bool { c, ok := comparePrimitive(v, operand); return ok && c > 0 }, nil
	case OpGte:
		return func(v any) bool { c, ok := comparePrimitive(v, operand); return ok && c >= 0 }, nil
	case OpLt:
		return func(v any) bool { c, ok := comparePrimitive(v, operand); return ok && c < 0 }, nil
	case OpLte:
		return func(v any) bool { c, ok := comparePrimitive(v, operand); return ok && c <= 0 }, nil
	case OpIn:
		list, err := toList(operand)
		if err != nil {
			return nil, err
		}
		return func(v any) bool {
			for _, item := range list {
				if equalPrimitive(v, item) {
					return true
				}
			}
			return false
		}, nil
	case OpNin:
		list, err := toList(operand)
		if err != nil {
			return nil, err
		}
		return func(v any) bool {
			for _, item := range list {
				if equalPrimitive(v, item) {
					return false
				}
			}
			return true
		}, nil
	case OpLike:
		pattern, ok := operand.(string)
		if !ok {
			return nil, kvtypes.NewInvalidFilter("\"like\" operand must be a string")
		}
		re, err := compileLikePattern(pattern)
		if err != nil {
			return nil, err
		}
		return func(v any) bool {
			s, ok := v.(string)
			if !ok {
				return false
			}
			return re.MatchString(s)
		}, nil
	default:
		return nil, kvtypes.NewInvalidFilter("unknown operator %q", op)
	}
}

func toList(operand any) ([]any, error) {
	list, ok := operand.([]any)
	if !ok {
		return nil, kvtypes.NewInvalidFilter("operand must be a list, got %T", operand)
	}
	return list, nil
}

// compileLikePattern turns a SQL-style pattern ("%" = any substring, "_" =
// exactly one character) into an anchored, case-insensitive regexp.
func compileLikePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, kvtypes.NewInvalidFilter("invalid like pattern %q: %v", pattern, err)
	}
	return re, nil
}

// equalPrimitive implements eq: same (comparable) type and equal value.
// Differing types never match.
func equalPrimitive(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		af, aok := toFloat64(a)
		bf, bok := toFloat64(b)
		if aok && bok {
			return af == bf
		}
		return false
	}
}

// comparePrimitive implements ordering for gt/gte/lt/lte: numeric or
// lexicographic string ordering. Mixed types never compare (ok=false); a
// string operand is never coerced to a number, and vice versa.
func comparePrimitive(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if _, ok := b.(string); ok {
		return 0, false
	}
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
