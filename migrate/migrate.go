// Package migrate implements the migration executor (spec.md §2 C10,
// §4.7): gated, atomic application of schema + data operations, with
// rename_attribute rewriting both the `_schema` tree and live data.
package migrate

import (
	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/logger"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

// OpKind discriminates a migration operation (spec.md §4.7).
type OpKind string

const (
	OpCreateCollection OpKind = "create_collection"
	OpDropCollection   OpKind = "drop_collection"
	OpAddAttribute     OpKind = "add_attribute"
	OpDropAttribute    OpKind = "drop_attribute"
	OpRenameAttribute  OpKind = "rename_attribute"
)

// Op is one migration operation. Only the fields relevant to Kind are
// read. Attribute/NewAttribute name a path within the collection's
// top-level schema; rename only supports renaming within the same
// parent (the common case — "entity ids are unchanged" per spec.md
// §4.7, and nothing in spec.md calls for re-parenting a field).
type Op struct {
	Kind         OpKind
	Collection   string
	Attribute    []string
	NewAttribute []string
	Descriptor   *schema.AttributeDescriptor // add_attribute
	Attrs        schema.AttributeMap         // create_collection
	PurgeData    bool                        // drop_collection: also tombstone live data
}

// Migration is one versioned schema change (spec.md §4.7).
type Migration struct {
	Version int
	Parent  int
	Up      []Op
	Down    []Op
}

// Direction selects which half of a Migration to apply.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Executor applies migrations against a triple store. It holds no
// state of its own — every method takes the *triple.Tx to run
// against — and exists so callers can depend on an Executor value
// (e.g. store it alongside other per-DB collaborators) rather than
// calling the package-level Apply function directly.
type Executor struct{}

// NewExecutor returns an Executor.
func NewExecutor() Executor { return Executor{} }

// Apply gates and applies m against tx's current schema; see the
// package-level Apply for the full gating/atomicity contract.
func (Executor) Apply(tx *triple.Tx, m Migration, dir Direction) (applied bool, err error) {
	return Apply(tx, m, dir)
}

// Apply gates and applies m against tx's current schema (spec.md §4.7
// "Gate"): up applies iff m.Parent == currentVersion, down iff
// m.Version == currentVersion. Applied reports whether the gate passed;
// when false, the migration was skipped (logged, not an error).
// Everything Apply does happens inside tx, so a caller wrapping it in
// triple.Store.Transact gets migration atomicity for free (spec.md
// §4.7 "Atomicity").
func Apply(tx *triple.Tx, m Migration, dir Direction) (applied bool, err error) {
	cur, found, err := tx.ReadSchema()
	if err != nil {
		return false, err
	}
	if !found {
		cur = schema.NewSchema()
	}

	var ops []Op
	switch dir {
	case Up:
		if m.Parent != cur.Version {
			logger.TraceIf("migrate", "skipping migration %d->%d: current version is %d", m.Parent, m.Version, cur.Version)
			return false, nil
		}
		ops = m.Up
	case Down:
		if m.Version != cur.Version {
			logger.TraceIf("migrate", "skipping down-migration %d->%d: current version is %d", m.Version, m.Parent, cur.Version)
			return false, nil
		}
		ops = m.Down
	default:
		return false, errkit.New(errkit.InvalidMigrationOperation, "unknown migration direction %q", dir)
	}

	next := cur.Clone()
	ts := tx.Clock().Now()

	for _, op := range ops {
		if err := applySchemaOp(next, op); err != nil {
			return false, err
		}
		if op.Kind == OpRenameAttribute {
			if err := renameData(tx, op.Collection, op.Attribute, op.NewAttribute, ts); err != nil {
				return false, err
			}
		}
		if op.Kind == OpDropCollection && op.PurgeData {
			if err := purgeCollection(tx, op.Collection, ts); err != nil {
				return false, err
			}
		}
	}

	switch dir {
	case Up:
		next.Version = m.Version
	case Down:
		next.Version = m.Parent
	}

	if err := tx.WriteSchema(next, ts); err != nil {
		return false, err
	}
	return true, nil
}

func applySchemaOp(s *schema.Schema, op Op) error {
	switch op.Kind {
	case OpCreateCollection:
		if _, exists := s.Collections[op.Collection]; exists {
			return errkit.New(errkit.InvalidMigrationOperation, "collection %q already exists", op.Collection)
		}
		s.Collections[op.Collection] = &schema.CollectionDef{Schema: op.Attrs}
		return nil

	case OpDropCollection:
		if _, exists := s.Collections[op.Collection]; !exists {
			return errkit.New(errkit.InvalidMigrationOperation, "collection %q does not exist", op.Collection)
		}
		delete(s.Collections, op.Collection)
		return nil

	case OpAddAttribute:
		def, ok := s.Collections[op.Collection]
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "collection %q does not exist", op.Collection)
		}
		parent, key, ok := navigateToParent(def.Schema, op.Attribute, true)
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "attribute path %v has no addressable parent", op.Attribute)
		}
		parent[key] = op.Descriptor
		return nil

	case OpDropAttribute:
		def, ok := s.Collections[op.Collection]
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "collection %q does not exist", op.Collection)
		}
		parent, key, ok := navigateToParent(def.Schema, op.Attribute, false)
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "unknown attribute %v", op.Attribute)
		}
		delete(parent, key)
		return nil

	case OpRenameAttribute:
		def, ok := s.Collections[op.Collection]
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "collection %q does not exist", op.Collection)
		}
		parent, oldKey, ok := navigateToParent(def.Schema, op.Attribute, false)
		if !ok {
			return errkit.New(errkit.InvalidMigrationOperation, "unknown attribute %v", op.Attribute)
		}
		if len(op.NewAttribute) == 0 {
			return errkit.New(errkit.InvalidMigrationOperation, "rename_attribute requires a new attribute path")
		}
		newKey := op.NewAttribute[len(op.NewAttribute)-1]
		descriptor := parent[oldKey]
		delete(parent, oldKey)
		parent[newKey] = descriptor
		return nil

	default:
		return errkit.New(errkit.InvalidMigrationOperation, "unknown migration op %q", op.Kind)
	}
}

// navigateToParent walks path, descending through Record.Fields, and
// returns the AttributeMap that directly owns path's last segment plus
// that segment's key. create controls whether intermediate Record
// fields are created on the way down (for add_attribute) or must
// already exist (for drop/rename).
func navigateToParent(fields schema.AttributeMap, path []string, create bool) (schema.AttributeMap, string, bool) {
	if len(path) == 0 || fields == nil {
		return nil, "", false
	}
	for _, seg := range path[:len(path)-1] {
		d, ok := fields[seg]
		if !ok {
			if !create {
				return nil, "", false
			}
			d = &schema.AttributeDescriptor{Type: schema.TypeRecord, Fields: schema.AttributeMap{}}
			fields[seg] = d
		}
		if d.Type != schema.TypeRecord {
			return nil, "", false
		}
		if d.Fields == nil {
			if !create {
				return nil, "", false
			}
			d.Fields = schema.AttributeMap{}
		}
		fields = d.Fields
	}
	return fields, path[len(path)-1], true
}

// renameData rewrites every live data triple whose attribute prefix is
// collection+oldPath to collection+newPath, across every entity in
// collection (spec.md §4.7 "Rename semantics").
func renameData(tx *triple.Tx, collection string, oldPath, newPath []string, ts clock.Timestamp) error {
	ids, err := tx.EntityIDsInCollection(collection)
	if err != nil {
		return err
	}

	oldFull := triple.Path(append([]string{collection}, oldPath...))
	newFull := triple.Path(append([]string{collection}, newPath...))

	var writes []triple.Triple
	for _, id := range ids {
		current, err := tx.ScanEntity(id)
		if err != nil {
			return err
		}
		for _, t := range current {
			suffix, ok := pathSuffix(t.A, oldFull)
			if !ok {
				continue
			}
			writes = append(writes, triple.Triple{E: id, A: newFull.Join(suffix...), V: t.V, T: ts, Expired: t.Expired})
			writes = append(writes, triple.Triple{E: id, A: t.A, V: nil, T: ts, Expired: true})
		}
	}
	return tx.Write(writes)
}

// purgeCollection tombstones every current triple for every entity in
// collection (spec.md §3 "dropCollection clears its _schema sub-tree";
// DESIGN.md's "Open Question decisions" resolve the question of orphaned
// data by also purging data when PurgeData is set).
func purgeCollection(tx *triple.Tx, collection string, ts clock.Timestamp) error {
	ids, err := tx.EntityIDsInCollection(collection)
	if err != nil {
		return err
	}
	var writes []triple.Triple
	for _, id := range ids {
		current, err := tx.ScanEntity(id)
		if err != nil {
			return err
		}
		for _, t := range current {
			if t.Expired {
				continue
			}
			writes = append(writes, triple.Triple{E: id, A: t.A, V: nil, T: ts, Expired: true})
		}
	}
	return tx.Write(writes)
}

// pathSuffix reports whether a starts with prefix, returning the
// remaining segments.
func pathSuffix(a, prefix triple.Path) ([]string, bool) {
	if len(a) < len(prefix) {
		return nil, false
	}
	for i, seg := range prefix {
		if a[i] != seg {
			return nil, false
		}
	}
	return a[len(prefix):], true
}
