// Package filter implements the predicate-tree evaluator (spec.md §2
// C7, §4.3): nested boolean trees whose leaves are `[path, op, value]`
// triples, evaluated against a timestamped entity view with
// `$variable` resolution against a session variables scope.
package filter

import (
	"fmt"
	"strings"

	"github.com/itoxiq/triplit/errkit"
)

// Op is a leaf predicate's comparison operator.
type Op string

const (
	OpEq     Op = "="
	OpNeq    Op = "!="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpGt     Op = ">"
	OpGte    Op = ">="
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpHas    Op = "has"
	OpNotHas Op = "!has"
	OpLike   Op = "like"
)

// Predicate is one node of the filter tree: either a leaf comparison or
// a boolean combinator over child Predicates.
type Predicate struct {
	// Leaf fields.
	Path  []string
	Op    Op
	Value interface{}

	// Combinator fields. Exactly one of And/Or/Not, or the leaf fields,
	// is set.
	And []Predicate
	Or  []Predicate
	Not *Predicate
}

// Leaf builds a leaf comparison predicate.
func Leaf(path []string, op Op, value interface{}) Predicate {
	return Predicate{Path: path, Op: op, Value: value}
}

// And builds a conjunction predicate.
func And(preds ...Predicate) Predicate { return Predicate{And: preds} }

// Or builds a disjunction predicate.
func Or(preds ...Predicate) Predicate { return Predicate{Or: preds} }

// Negate builds a negation predicate.
func Negate(p Predicate) Predicate { return Predicate{Not: &p} }

// Entity is the minimal read surface the evaluator needs: the current
// value at a path (or nil if absent), and current set membership at a
// path (spec.md §4.3 "Evaluation against a timestamped entity uses the
// current value at each path; missing paths compare as null").
type Entity interface {
	ValueAt(path []string) (value interface{}, found bool)
	SetMembersAt(path []string) []interface{}
}

// Variables resolves a $-prefixed variable name to its current value.
type Variables map[string]interface{}

// Evaluate walks p against entity, resolving any `$variable` leaf
// values against vars first. Returns SessionVariableNotFound if a
// referenced variable isn't bound.
func Evaluate(p Predicate, entity Entity, vars Variables) (bool, error) {
	switch {
	case p.And != nil:
		for _, child := range p.And {
			ok, err := Evaluate(child, entity, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case p.Or != nil:
		for _, child := range p.Or {
			ok, err := Evaluate(child, entity, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case p.Not != nil:
		ok, err := Evaluate(*p.Not, entity, vars)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return evalLeaf(p, entity, vars)
	}
}

func evalLeaf(p Predicate, entity Entity, vars Variables) (bool, error) {
	value, err := resolveValue(p.Value, vars)
	if err != nil {
		return false, err
	}

	if p.Op == OpHas || p.Op == OpNotHas {
		members := entity.SetMembersAt(p.Path)
		present := containsValue(members, value)
		if p.Op == OpHas {
			return present, nil
		}
		return !present, nil
	}

	actual, found := entity.ValueAt(p.Path)
	if !found {
		actual = nil
	}

	switch p.Op {
	case OpEq:
		return compareEqual(actual, value), nil
	case OpNeq:
		return !compareEqual(actual, value), nil
	case OpLt, OpLte, OpGt, OpGte:
		return compareOrdered(actual, value, p.Op)
	case OpIn:
		list, ok := value.([]interface{})
		if !ok {
			return false, nil
		}
		return containsValue(list, actual), nil
	case OpNin:
		list, ok := value.([]interface{})
		if !ok {
			return true, nil
		}
		return !containsValue(list, actual), nil
	case OpLike:
		pattern, ok := value.(string)
		if !ok {
			return false, nil
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return likeMatch(s, pattern), nil
	default:
		return false, errkit.New(errkit.InvalidMigrationOperation, "unknown filter operator %q", p.Op)
	}
}

// resolveValue substitutes a leading-$ string with its bound variable,
// raising SessionVariableNotFound if unbound (spec.md §4.3).
func resolveValue(v interface{}, vars Variables) (interface{}, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return v, nil
	}
	name := s[1:]
	bound, ok := vars[name]
	if !ok {
		return nil, errkit.New(errkit.SessionVariableNotFound, "session variable %q is not bound", name)
	}
	return bound, nil
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if compareEqual(item, v) {
			return true
		}
	}
	return false
}

func compareEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aIsNum := asFloat(a)
	bn, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return a == b
}

func compareOrdered(a, b interface{}, op Op) (bool, error) {
	an, aIsNum := asFloat(a)
	bn, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch op {
		case OpLt:
			return an < bn, nil
		case OpLte:
			return an <= bn, nil
		case OpGt:
			return an > bn, nil
		case OpGte:
			return an >= bn, nil
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case OpLt:
			return as < bs, nil
		case OpLte:
			return as <= bs, nil
		case OpGt:
			return as > bs, nil
		case OpGte:
			return as >= bs, nil
		}
	}
	return false, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// likeMatch implements SQL-style LIKE matching with '%' (any run of
// characters) and '_' (any single character) wildcards.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatchRunes(s, p[1:]) {
			return true
		}
		for i := range s {
			if likeMatchRunes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

// String renders a leaf predicate for diagnostics/logging.
func (p Predicate) String() string {
	if p.And != nil {
		return fmt.Sprintf("and(%v)", p.And)
	}
	if p.Or != nil {
		return fmt.Sprintf("or(%v)", p.Or)
	}
	if p.Not != nil {
		return fmt.Sprintf("not(%v)", *p.Not)
	}
	return fmt.Sprintf("%s %s %v", strings.Join(p.Path, "."), p.Op, p.Value)
}
