// Package proxy implements the change-tracking write proxy (spec.md §2
// C6, §4.2): a staging tree over a fetched document that records
// per-path mutations without touching the original, then converts the
// staged changes to triples at a single commit timestamp.
package proxy

import (
	"sort"
	"strings"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/codec"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

// Handle is a single update's staging tree (spec.md §4.2 "a proxy that
// records per-path changes into a map without mutating the fetched
// object"). It is not safe for concurrent use — one mutator closure
// owns one Handle.
type Handle struct {
	collection string
	fields     schema.AttributeMap // nil for a schemaless collection
	base       codec.Document

	// staged holds scalar/record-leaf assignments, keyed by the
	// dot-joined path.
	staged map[string]interface{}
	// setOps holds pending set membership changes: path -> member
	// segment -> true (add) / false (remove).
	setOps map[string]map[string]bool
	// order preserves staging order so Commit emits deterministic output.
	order []string
}

// New wraps base (the entity's currently fetched plain document) in a
// staging Handle. fields is the collection's schema, or nil if
// schemaless.
func New(collection string, fields schema.AttributeMap, base codec.Document) *Handle {
	return &Handle{
		collection: collection,
		fields:     fields,
		base:       base,
		staged:     make(map[string]interface{}),
		setOps:     make(map[string]map[string]bool),
	}
}

func joinPath(path []string) string { return strings.Join(path, ".") }

// Get reads the value at path: a staged value if present, else the
// value already in the fetched document, else nil (spec.md §4.2
// "Reading returns staged values if present, else the underlying
// value, else undefined").
func (h *Handle) Get(path ...string) interface{} {
	key := joinPath(path)
	if v, ok := h.staged[key]; ok {
		return v
	}
	return valueAt(h.base, path)
}

func valueAt(doc codec.Document, path []string) interface{} {
	var cur interface{} = doc
	for _, seg := range path {
		m, ok := cur.(codec.Document)
		if !ok {
			if mm, ok2 := cur.(map[string]interface{}); ok2 {
				m = codec.Document(mm)
			} else {
				return nil
			}
		}
		cur = m[seg]
	}
	return cur
}

// Set stages value at path (spec.md §4.2 "Assigning a value at any path
// stages (path, value)"). Returns UnknownAttribute if path isn't
// declared in a present schema, or if it names a Set attribute (set
// fields can't be assigned directly; use Add/Remove).
func (h *Handle) Set(value interface{}, path ...string) error {
	if h.fields != nil {
		d, ok := descriptorAt(h.fields, path)
		if !ok {
			return errkit.New(errkit.UnknownAttribute, "unknown attribute %q in collection %q", joinPath(path), h.collection)
		}
		if d.Type == schema.TypeSet {
			return errkit.New(errkit.UnknownAttribute, "attribute %q is a set; use Add/Remove, not Set", joinPath(path))
		}
	}
	key := joinPath(path)
	h.stageOrder(key)
	h.staged[key] = value
	return nil
}

func (h *Handle) stageOrder(key string) {
	if _, ok := h.staged[key]; !ok {
		h.order = append(h.order, key)
	}
}

// Add stages set-membership addition of member at path (spec.md §4.2
// "add(v) stages ([...path, v], true)").
func (h *Handle) Add(member interface{}, path ...string) error {
	return h.setOp(member, path, true)
}

// Remove stages set-membership removal of member at path (spec.md §4.2
// "remove(v) stages ([...path, v], false)").
func (h *Handle) Remove(member interface{}, path ...string) error {
	return h.setOp(member, path, false)
}

func (h *Handle) setOp(member interface{}, path []string, present bool) error {
	if h.fields != nil {
		d, ok := descriptorAt(h.fields, path)
		if !ok {
			return errkit.New(errkit.UnknownAttribute, "unknown attribute %q in collection %q", joinPath(path), h.collection)
		}
		if d.Type != schema.TypeSet {
			return errkit.New(errkit.UnknownAttribute, "attribute %q is not a set", joinPath(path))
		}
	}
	key := joinPath(path)
	if h.setOps[key] == nil {
		h.setOps[key] = make(map[string]bool)
		h.order = append(h.order, key)
	}
	h.setOps[key][triple.SegmentOf(member)] = present
	return nil
}

// Has reports whether member is (after staged ops) a current member of
// the set at path: staged ops win over the fetched set (spec.md §4.2
// "has(v) consults staged values then falls back to the fetched set").
func (h *Handle) Has(member interface{}, path ...string) bool {
	seg := triple.SegmentOf(member)
	key := joinPath(path)
	if ops, ok := h.setOps[key]; ok {
		if present, staged := ops[seg]; staged {
			return present
		}
	}
	base, _ := valueAt(h.base, path).(codec.Set)
	for _, m := range base {
		if triple.SegmentOf(m) == seg {
			return true
		}
	}
	return false
}

// Commit converts every staged change into triples sharing ts (spec.md
// §4.2 "staged changes are converted to triples at a single commit
// timestamp").
func (h *Handle) Commit(e triple.EntityID, ts clock.Timestamp) []triple.Triple {
	var out []triple.Triple
	for _, key := range h.order {
		path := strings.Split(key, ".")
		full := triple.Path(append([]string{h.collection}, path...))

		if ops, ok := h.setOps[key]; ok {
			members := make([]string, 0, len(ops))
			for m := range ops {
				members = append(members, m)
			}
			// deterministic emission order
			sort.Strings(members)
			for _, m := range members {
				out = append(out, triple.Triple{E: e, A: full.Join(m), V: ops[m], T: ts})
			}
			continue
		}

		out = append(out, triple.Triple{E: e, A: full, V: h.staged[key], T: ts})
	}
	return out
}

// ApplyDefaults stages a generated value at every declared attribute
// that's still missing one after the mutator ran — fresh from the
// fetched document or left unset by the mutator — the same
// materialization Insert performs on a brand new document (spec.md §3
// DefaultSpec, §8 default materialization), so a schema edit that adds
// a defaulted attribute gets it filled in on the next Update of an
// existing entity too. A no-op for schemaless collections.
func (h *Handle) ApplyDefaults() error {
	if h.fields == nil {
		return nil
	}
	return applyDefaults(h, h.fields, nil)
}

func applyDefaults(h *Handle, fields schema.AttributeMap, prefix []string) error {
	for name, d := range fields {
		path := append(append([]string{}, prefix...), name)
		if d.Type == schema.TypeRecord {
			if err := applyDefaults(h, d.Fields, path); err != nil {
				return err
			}
			continue
		}
		if d.Options.Default == nil || h.Get(path...) != nil {
			continue
		}
		if err := h.Set(codec.DefaultValue(*d.Options.Default), path...); err != nil {
			return err
		}
	}
	return nil
}

// descriptorAt walks fields along path, following Record.Fields at each
// non-final segment.
func descriptorAt(fields schema.AttributeMap, path []string) (*schema.AttributeDescriptor, bool) {
	if len(path) == 0 {
		return nil, false
	}
	d, ok := fields[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return d, true
	}
	if d.Type != schema.TypeRecord {
		return nil, false
	}
	return descriptorAt(d.Fields, path[1:])
}
