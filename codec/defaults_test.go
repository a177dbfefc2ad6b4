package codec_test

import (
	"testing"

	"github.com/itoxiq/triplit/codec"
	"github.com/itoxiq/triplit/schema"
)

func TestDefaultValueUUID(t *testing.T) {
	v1 := codec.DefaultValue(schema.DefaultSpec{Func: schema.DefaultUUID})
	v2 := codec.DefaultValue(schema.DefaultSpec{Func: schema.DefaultUUID})

	s1, ok := v1.(string)
	if !ok || s1 == "" {
		t.Fatalf("expected a non-empty string uuid, got %v", v1)
	}
	if v1 == v2 {
		t.Fatalf("expected distinct uuids across calls, got %v twice", v1)
	}
}

func TestDefaultValueNow(t *testing.T) {
	v := codec.DefaultValue(schema.DefaultSpec{Func: schema.DefaultNow})
	s, ok := v.(string)
	if !ok || s == "" {
		t.Fatalf("expected a non-empty RFC3339Nano string, got %v", v)
	}
}

func TestDefaultValueLiteral(t *testing.T) {
	v := codec.DefaultValue(schema.DefaultSpec{Func: schema.DefaultLiteral, Args: "draft"})
	if v != "draft" {
		t.Fatalf("got %v, want draft", v)
	}
}

func TestDefaultValueUnknownFuncYieldsNil(t *testing.T) {
	v := codec.DefaultValue(schema.DefaultSpec{Func: "bogus"})
	if v != nil {
		t.Fatalf("expected nil for an unrecognized DefaultFunc, got %v", v)
	}
}

func todoFieldsWithDefaults() schema.AttributeMap {
	return schema.AttributeMap{
		"id":     schema.String(schema.WithDefault(schema.DefaultSpec{Func: schema.DefaultUUID})),
		"text":   schema.String(),
		"status": schema.String(schema.WithDefault(schema.DefaultSpec{Func: schema.DefaultLiteral, Args: "open"})),
	}
}

func TestMaterializeDefaultsFillsOnlyMissingFields(t *testing.T) {
	doc := codec.Document{"text": "buy milk"}
	out := codec.MaterializeDefaults(todoFieldsWithDefaults(), doc)

	if out["status"] != "open" {
		t.Fatalf("expected status to default to open, got %v", out["status"])
	}
	if out["text"] != "buy milk" {
		t.Fatalf("expected text to stay as given, got %v", out["text"])
	}
	id, ok := out["id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected a generated id, got %v", out["id"])
	}

	if _, present := doc["status"]; present {
		t.Fatalf("expected MaterializeDefaults to leave the original document untouched, got %v", doc)
	}
}

func TestMaterializeDefaultsDoesNotOverrideExplicitValue(t *testing.T) {
	doc := codec.Document{"status": "closed"}
	out := codec.MaterializeDefaults(todoFieldsWithDefaults(), doc)

	if out["status"] != "closed" {
		t.Fatalf("expected explicit status to win over the default, got %v", out["status"])
	}
}

func TestMaterializeDefaultsRecursesIntoRecords(t *testing.T) {
	fields := schema.AttributeMap{
		"meta": schema.Record(schema.AttributeMap{
			"createdAt": schema.String(schema.WithDefault(schema.DefaultSpec{Func: schema.DefaultNow})),
		}),
	}
	doc := codec.Document{"meta": codec.Document{}}

	out := codec.MaterializeDefaults(fields, doc)

	meta, ok := out["meta"].(codec.Document)
	if !ok {
		t.Fatalf("expected meta to stay a Document, got %T", out["meta"])
	}
	if s, ok := meta["createdAt"].(string); !ok || s == "" {
		t.Fatalf("expected createdAt to be materialized, got %v", meta["createdAt"])
	}
}

func TestMaterializeDefaultsNilFieldsIsNoop(t *testing.T) {
	doc := codec.Document{"text": "buy milk"}
	out := codec.MaterializeDefaults(nil, doc)
	if out["text"] != "buy milk" || len(out) != 1 {
		t.Fatalf("expected schemaless document to pass through unchanged, got %v", out)
	}
}
