package filter_test

import (
	"testing"

	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/filter"
)

type fakeEntity struct {
	values map[string]interface{}
	sets   map[string][]interface{}
}

func (f fakeEntity) ValueAt(path []string) (interface{}, bool) {
	v, ok := f.values[joinTest(path)]
	return v, ok
}

func (f fakeEntity) SetMembersAt(path []string) []interface{} {
	return f.sets[joinTest(path)]
}

func joinTest(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

func TestEqualityAndMissingPathIsNull(t *testing.T) {
	e := fakeEntity{values: map[string]interface{}{"status": "open"}}

	ok, err := filter.Evaluate(filter.Leaf([]string{"status"}, filter.OpEq, "open"), e, nil)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = filter.Evaluate(filter.Leaf([]string{"missing"}, filter.OpEq, nil), e, nil)
	if err != nil || !ok {
		t.Fatalf("expected missing path to compare equal to nil, got ok=%v err=%v", ok, err)
	}
}

func TestNumericOrdering(t *testing.T) {
	e := fakeEntity{values: map[string]interface{}{"count": float64(5)}}

	ok, err := filter.Evaluate(filter.Leaf([]string{"count"}, filter.OpGte, float64(3)), e, nil)
	if err != nil || !ok {
		t.Fatalf("expected 5 >= 3, got ok=%v err=%v", ok, err)
	}
	ok, err = filter.Evaluate(filter.Leaf([]string{"count"}, filter.OpLt, float64(3)), e, nil)
	if err != nil || ok {
		t.Fatalf("expected 5 < 3 to be false, got ok=%v err=%v", ok, err)
	}
}

func TestHasAndNotHas(t *testing.T) {
	e := fakeEntity{sets: map[string][]interface{}{"tags": {"urgent", "home"}}}

	ok, _ := filter.Evaluate(filter.Leaf([]string{"tags"}, filter.OpHas, "urgent"), e, nil)
	if !ok {
		t.Fatal("expected has(urgent) to be true")
	}
	ok, _ = filter.Evaluate(filter.Leaf([]string{"tags"}, filter.OpNotHas, "urgent"), e, nil)
	if ok {
		t.Fatal("expected !has(urgent) to be false")
	}
}

func TestAndOrNot(t *testing.T) {
	e := fakeEntity{values: map[string]interface{}{"status": "open", "priority": float64(2)}}

	tree := filter.And(
		filter.Leaf([]string{"status"}, filter.OpEq, "open"),
		filter.Or(
			filter.Leaf([]string{"priority"}, filter.OpEq, float64(1)),
			filter.Leaf([]string{"priority"}, filter.OpEq, float64(2)),
		),
	)
	ok, err := filter.Evaluate(tree, e, nil)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	negated := filter.Negate(filter.Leaf([]string{"status"}, filter.OpEq, "open"))
	ok, err = filter.Evaluate(negated, e, nil)
	if err != nil || ok {
		t.Fatalf("expected negation to flip to false, got ok=%v err=%v", ok, err)
	}
}

func TestVariableResolution(t *testing.T) {
	e := fakeEntity{values: map[string]interface{}{"tenant": "acme"}}

	ok, err := filter.Evaluate(filter.Leaf([]string{"tenant"}, filter.OpEq, "$tenantId"), e, filter.Variables{"tenantId": "acme"})
	if err != nil || !ok {
		t.Fatalf("expected resolved variable to match, got ok=%v err=%v", ok, err)
	}

	_, err = filter.Evaluate(filter.Leaf([]string{"tenant"}, filter.OpEq, "$missing"), e, filter.Variables{})
	if !errkit.Is(err, errkit.SessionVariableNotFound) {
		t.Fatalf("expected SessionVariableNotFound, got %v", err)
	}
}

func TestLikeWildcards(t *testing.T) {
	e := fakeEntity{values: map[string]interface{}{"name": "triplit-db"}}

	ok, _ := filter.Evaluate(filter.Leaf([]string{"name"}, filter.OpLike, "tri%db"), e, nil)
	if !ok {
		t.Fatal("expected wildcard match")
	}
	ok, _ = filter.Evaluate(filter.Leaf([]string{"name"}, filter.OpLike, "other%"), e, nil)
	if ok {
		t.Fatal("expected no match")
	}
}
