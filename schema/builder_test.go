package schema_test

import (
	"testing"

	"github.com/itoxiq/triplit/schema"
)

func TestOptionalWrapsWithoutMutatingOriginal(t *testing.T) {
	base := schema.String()
	wrapped := schema.Optional(base)

	if base.Optional {
		t.Fatalf("expected base descriptor to remain non-optional")
	}
	if !wrapped.Optional {
		t.Fatalf("expected wrapped descriptor to be optional")
	}
	if wrapped.Type != schema.TypeString {
		t.Fatalf("expected wrapped type to stay string, got %v", wrapped.Type)
	}
}

func TestSetAndRecordComposition(t *testing.T) {
	rec := schema.Record(schema.AttributeMap{
		"city": schema.String(),
		"zip":  schema.Optional(schema.String()),
	})
	set := schema.Set(schema.Boolean())

	if rec.Type != schema.TypeRecord || len(rec.Fields) != 2 {
		t.Fatalf("unexpected record descriptor: %+v", rec)
	}
	if set.Type != schema.TypeSet || set.Item.Type != schema.TypeBoolean {
		t.Fatalf("unexpected set descriptor: %+v", set)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := schema.Build(1, map[string]*schema.CollectionDef{
		"users": schema.Collection(schema.AttributeMap{
			"name": schema.String(schema.WithEnum("a", "b")),
		}),
	}, nil)

	clone := s.Clone()
	clone.Collections["users"].Schema["name"].Options.Enum[0] = "mutated"

	if s.Collections["users"].Schema["name"].Options.Enum[0] == "mutated" {
		t.Fatalf("expected clone to be independent of original")
	}
}
