package codec

import (
	"time"

	"github.com/google/uuid"

	"github.com/itoxiq/triplit/schema"
)

// MaterializeDefaults fills in any attribute fields declares a
// schema.DefaultSpec for but doc doesn't set (spec.md §3 "DefaultSpec =
// { func, args }", §8 "Inserting a document then fetching by id returns
// a deep-equal document" — a fetched document only matches an inserted
// one once omitted defaulted fields are filled in the same way). doc is
// not mutated; a copy is returned, recursing into nested records.
func MaterializeDefaults(fields schema.AttributeMap, doc Document) Document {
	if fields == nil {
		return doc
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	fillDefaults(fields, out)
	return out
}

func fillDefaults(fields schema.AttributeMap, doc Document) {
	for name, descriptor := range fields {
		if descriptor.Type == schema.TypeRecord {
			nested, ok := asNestedDocument(doc[name])
			if !ok {
				continue
			}
			clone := make(Document, len(nested))
			for k, v := range nested {
				clone[k] = v
			}
			fillDefaults(descriptor.Fields, clone)
			doc[name] = clone
			continue
		}
		if _, present := doc[name]; present || descriptor.Options.Default == nil {
			continue
		}
		doc[name] = DefaultValue(*descriptor.Options.Default)
	}
}

func asNestedDocument(v interface{}) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]interface{}:
		return Document(m), true
	default:
		return nil, false
	}
}

// DefaultValue generates the concrete value a DefaultSpec describes
// (spec.md §3 DefaultFunc: uuid, now, literal). An unrecognized Func
// yields nil rather than erroring, since schema construction is the
// place to reject a bad DefaultFunc, not write time.
func DefaultValue(spec schema.DefaultSpec) interface{} {
	switch spec.Func {
	case schema.DefaultUUID:
		return uuid.NewString()
	case schema.DefaultNow:
		return time.Now().UTC().Format(time.RFC3339Nano)
	case schema.DefaultLiteral:
		return spec.Args
	default:
		return nil
	}
}
