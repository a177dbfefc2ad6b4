// Package codec implements the bidirectional mapping between plain
// documents, timestamped objects, and triples (spec.md §2 C4, §4.1).
package codec

import (
	"sort"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

// Document is a plain, schema-shaped value: nested map[string]interface{}
// records, Set members, and scalar leaves. It's what callers pass to
// Insert/Update and get back from Fetch.
type Document map[string]interface{}

// Set is the plain-document representation of a Set attribute's current
// membership: an unordered list of members, de-duplicated, with no
// tombstones or timestamps. Document values with dynamic type Set or
// []interface{} are exploded into one membership triple per member
// (spec.md §4.1); any other slice type is treated as an opaque scalar.
type Set []interface{}

// Leaf is a scalar value paired with the commit timestamp that last set
// it (spec.md §4.1 "Triples -> timestamped object").
type Leaf struct {
	Value     interface{}
	Timestamp clock.Timestamp
}

// TimestampedObject is the intermediate form between triples and a
// plain Document: each key maps to a Leaf (scalar), a TimestampedObject
// (nested record), or a map[string]Leaf (set members keyed by member
// segment, value true/false is membership at that timestamp).
type TimestampedObject map[string]interface{}

// PlainToTriples explodes doc into the triples that represent it,
// stamped with ts (spec.md §4.1 "Plain -> triples"). All triples
// share ts, including the collection marker.
func PlainToTriples(collection string, e triple.EntityID, doc Document, ts clock.Timestamp) []triple.Triple {
	var out []triple.Triple
	out = append(out, triple.Triple{
		E: e, A: triple.Path{triple.CollectionMarkerAttr}, V: collection, T: ts,
	})
	walkPlain(e, triple.Path{collection}, doc, ts, &out)
	return out
}

func walkPlain(e triple.EntityID, base triple.Path, doc Document, ts clock.Timestamp, out *[]triple.Triple) {
	names := make([]string, 0, len(doc))
	for k := range doc {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		path := base.Join(name)
		switch v := doc[name].(type) {
		case Document:
			walkPlain(e, path, v, ts, out)
		case map[string]interface{}:
			walkPlain(e, path, Document(v), ts, out)
		case Set:
			emitSet(e, path, v, ts, out)
		case []interface{}:
			emitSet(e, path, Set(v), ts, out)
		default:
			*out = append(*out, triple.Triple{E: e, A: path, V: v, T: ts})
		}
	}
}

func emitSet(e triple.EntityID, path triple.Path, members Set, ts clock.Timestamp, out *[]triple.Triple) {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		seg := triple.SegmentOf(m)
		if seen[seg] {
			continue
		}
		seen[seg] = true
		*out = append(*out, triple.Triple{E: e, A: path.Join(seg), V: true, T: ts})
	}
}

// rawNode is the trie built while grouping an entity's current triples
// by attribute path, before shape (scalar/record/set) is decided.
type rawNode struct {
	leaf     *triple.Triple
	children map[string]*rawNode
	order    []string
}

func (n *rawNode) child(seg string) *rawNode {
	if n.children == nil {
		n.children = make(map[string]*rawNode)
	}
	c, ok := n.children[seg]
	if !ok {
		c = &rawNode{}
		n.children[seg] = c
		n.order = append(n.order, seg)
	}
	return c
}

// TriplesToTimestamped reduces an entity's current (non-tombstoned-away)
// triples into a TimestampedObject (spec.md §4.1). triples must all
// share the same entity; the collection marker triple and expired
// (tombstoned) triples are skipped. They need not all be "current" in
// the set-membership sense — tombstoned set members (V=false) are
// still included.
//
// fields is the schema for this collection's top level, or nil for a
// schemaless collection; when available it disambiguates a Set path
// (member children) from a single-field Record unambiguously. Without
// it, a path whose every child is itself a childless boolean leaf is
// assumed to be a Set — a heuristic that misclassifies any Record whose
// fields are all boolean leaves, an acceptable limitation of dynamic
// (schemaless) collections.
func TriplesToTimestamped(triples []triple.Triple, collection string, fields schema.AttributeMap) TimestampedObject {
	root := &rawNode{}
	for _, t := range triples {
		if t.Expired || t.A.Equal(triple.Path{triple.CollectionMarkerAttr}) {
			continue
		}
		path := stripCollectionPrefix(t.A, collection)
		n := root
		for _, seg := range path {
			n = n.child(seg)
		}
		tCopy := t
		n.leaf = &tCopy
	}
	return buildTimestamped(root, fields)
}

func stripCollectionPrefix(a triple.Path, collection string) triple.Path {
	if len(a) > 0 && a[0] == collection {
		return a[1:]
	}
	return a
}

func buildTimestamped(n *rawNode, fields schema.AttributeMap) TimestampedObject {
	obj := make(TimestampedObject)
	for _, name := range n.order {
		child := n.children[name]
		var descriptor *schema.AttributeDescriptor
		if fields != nil {
			descriptor = fields[name]
		}
		obj[name] = buildNode(child, descriptor)
	}
	return obj
}

func buildNode(n *rawNode, descriptor *schema.AttributeDescriptor) interface{} {
	if len(n.children) == 0 {
		if n.leaf == nil {
			return nil
		}
		return Leaf{Value: n.leaf.V, Timestamp: n.leaf.T}
	}

	isSet := false
	var childFields schema.AttributeMap
	switch {
	case descriptor != nil:
		isSet = descriptor.Type == schema.TypeSet
		if descriptor.Type == schema.TypeRecord {
			childFields = descriptor.Fields
		}
	default:
		isSet = looksLikeSet(n)
	}

	if isSet {
		members := make(map[string]Leaf, len(n.order))
		for _, seg := range n.order {
			c := n.children[seg]
			if c.leaf != nil {
				members[seg] = Leaf{Value: c.leaf.V, Timestamp: c.leaf.T}
			}
		}
		return members
	}
	return buildTimestamped(n, childFields)
}

// looksLikeSet reports whether every child of n is a childless leaf
// with a boolean value, the shape a Set's members always take.
func looksLikeSet(n *rawNode) bool {
	for _, seg := range n.order {
		c := n.children[seg]
		if len(c.children) > 0 || c.leaf == nil {
			return false
		}
		if _, ok := c.leaf.V.(bool); !ok {
			return false
		}
	}
	return len(n.order) > 0
}

// TimestampedToPlain drops timestamps, keeping only set members whose
// latest recorded value is true (spec.md §4.1 "Timestamped -> plain").
func TimestampedToPlain(obj TimestampedObject) Document {
	out := make(Document, len(obj))
	for k, v := range obj {
		if rendered, ok := renderPlain(v); ok {
			out[k] = rendered
		}
	}
	return out
}

func renderPlain(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case Leaf:
		return x.Value, true
	case map[string]Leaf:
		members := make(Set, 0, len(x))
		names := make([]string, 0, len(x))
		for name := range x {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if b, ok := x[name].Value.(bool); ok && b {
				members = append(members, name)
			}
		}
		return members, true
	case TimestampedObject:
		return TimestampedToPlain(x), true
	default:
		return nil, false
	}
}
