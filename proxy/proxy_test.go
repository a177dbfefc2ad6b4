package proxy_test

import (
	"testing"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/codec"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/proxy"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

func todoFields() schema.AttributeMap {
	return schema.AttributeMap{
		"text": schema.String(),
		"tags": schema.Set(schema.String()),
	}
}

func TestGetFallsBackToFetchedValue(t *testing.T) {
	base := codec.Document{"text": "buy milk"}
	h := proxy.New("todos", todoFields(), base)

	if got := h.Get("text"); got != "buy milk" {
		t.Fatalf("got %v, want buy milk", got)
	}
}

func TestSetStagesWithoutMutatingBase(t *testing.T) {
	base := codec.Document{"text": "buy milk"}
	h := proxy.New("todos", todoFields(), base)

	if err := h.Set("buy bread", "text"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := h.Get("text"); got != "buy bread" {
		t.Fatalf("got %v, want buy bread", got)
	}
	if base["text"] != "buy milk" {
		t.Fatalf("base document was mutated: %v", base["text"])
	}
}

func TestSetOnUnknownAttributeFails(t *testing.T) {
	h := proxy.New("todos", todoFields(), codec.Document{})
	err := h.Set("x", "nope")
	if !errkit.Is(err, errkit.UnknownAttribute) {
		t.Fatalf("expected UnknownAttribute, got %v", err)
	}
}

func TestSetOnSetAttributeFails(t *testing.T) {
	h := proxy.New("todos", todoFields(), codec.Document{})
	err := h.Set([]string{"a"}, "tags")
	if !errkit.Is(err, errkit.UnknownAttribute) {
		t.Fatalf("expected UnknownAttribute for assigning a set field, got %v", err)
	}
}

func TestAddRemoveHasOrdering(t *testing.T) {
	base := codec.Document{"tags": codec.Set{"home"}}
	h := proxy.New("todos", todoFields(), base)

	if !h.Has("home", "tags") {
		t.Fatal("expected home to already be a member")
	}

	if err := h.Add("urgent", "tags"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !h.Has("urgent", "tags") {
		t.Fatal("expected urgent to be a member after Add")
	}

	if err := h.Remove("home", "tags"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if h.Has("home", "tags") {
		t.Fatal("expected home to no longer be a member after Remove")
	}

	// add then remove the same member: remove wins (last write wins by
	// staging order, spec.md §8 "s.add(x); s.remove(x) leaves x ∉ s").
	if err := h.Add("temp", "tags"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.Remove("temp", "tags"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if h.Has("temp", "tags") {
		t.Fatal("expected add-then-remove to leave the member absent")
	}
}

func todoFieldsWithDefaults() schema.AttributeMap {
	return schema.AttributeMap{
		"text":   schema.String(),
		"status": schema.String(schema.WithDefault(schema.DefaultSpec{Func: schema.DefaultLiteral, Args: "open"})),
		"tags":   schema.Set(schema.String()),
	}
}

func TestApplyDefaultsFillsMissingAttribute(t *testing.T) {
	h := proxy.New("todos", todoFieldsWithDefaults(), codec.Document{"text": "buy milk"})

	if err := h.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	if got := h.Get("status"); got != "open" {
		t.Fatalf("got %v, want open", got)
	}
}

func TestApplyDefaultsLeavesExistingValueAlone(t *testing.T) {
	h := proxy.New("todos", todoFieldsWithDefaults(), codec.Document{"status": "closed"})

	if err := h.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	if got := h.Get("status"); got != "closed" {
		t.Fatalf("got %v, want closed (ApplyDefaults must not override an already-present value)", got)
	}
}

func TestApplyDefaultsLeavesStagedValueAlone(t *testing.T) {
	h := proxy.New("todos", todoFieldsWithDefaults(), codec.Document{})
	if err := h.Set("archived", "status"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := h.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	if got := h.Get("status"); got != "archived" {
		t.Fatalf("got %v, want archived (a staged value wins over the default)", got)
	}
}

func TestApplyDefaultsNoopForSchemaless(t *testing.T) {
	h := proxy.New("todos", nil, codec.Document{})
	if err := h.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	if h.Get("status") != nil {
		t.Fatalf("expected no attribute to be materialized for a schemaless collection")
	}
}

func TestCommitEmitsTriplesAtSharedTimestamp(t *testing.T) {
	e, _ := triple.NewEntityID("todos", "t1")
	ts := clock.Timestamp{Tick: 1, ClientID: "c1"}

	h := proxy.New("todos", todoFields(), codec.Document{"tags": codec.Set{}})
	if err := h.Set("buy milk", "text"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Add("urgent", "tags"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	triples := h.Commit(e, ts)
	if len(triples) != 2 {
		t.Fatalf("expected 2 triples, got %d: %+v", len(triples), triples)
	}
	for _, tr := range triples {
		if tr.T != ts {
			t.Fatalf("expected all triples to share ts, got %+v", tr.T)
		}
		if tr.E != e {
			t.Fatalf("expected entity %v, got %v", e, tr.E)
		}
	}
}
