package schema

import (
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DiffKind discriminates the four shapes a Diff record can take
// (spec.md §4.4).
type DiffKind string

const (
	KindCollectionAttribute  DiffKind = "collectionAttribute"
	KindCollectionRules      DiffKind = "collectionRules"
	KindCollectionPermissions DiffKind = "collectionPermissions"
	KindRoles                DiffKind = "roles"
)

// EditType discriminates insert/delete/update within a collectionAttribute Diff.
type EditType string

const (
	EditInsert EditType = "insert"
	EditDelete EditType = "delete"
	EditUpdate EditType = "update"
)

// TypeChange, BoolChange, DefaultChange, and EnumChange each record the
// before/after of one differing field inside AttributeChanges.
type TypeChange struct{ From, To AttrType }
type BoolChange struct{ From, To bool }
type DefaultChange struct{ From, To *DefaultSpec }
type EnumChange struct{ From, To []interface{} }

// RecordChanges summarizes how a Record descriptor's fields differ
// between two schema versions (spec.md §4.4 "nested differences in
// Record ... item types").
type RecordChanges struct {
	Added   map[string]*AttributeDescriptor
	Removed map[string]*AttributeDescriptor
	Updated map[string]*AttributeChanges
}

func (r *RecordChanges) empty() bool {
	return r == nil || (len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Updated) == 0)
}

// AttributeChanges holds only the fields that actually differ between
// an attribute's old and new descriptor (spec.md §4.4: "containing
// *only* the differing fields").
type AttributeChanges struct {
	Type    *TypeChange
	Optional *BoolChange
	Nullable *BoolChange
	Default  *DefaultChange
	Enum     *EnumChange
	Record   *RecordChanges
	// SetItem holds the recursive diff of a Set attribute's item
	// descriptor (path suffix conceptually ["[]"], spec.md §4.4).
	SetItem *AttributeChanges
}

func (c *AttributeChanges) empty() bool {
	if c == nil {
		return true
	}
	return c.Type == nil && c.Optional == nil && c.Nullable == nil &&
		c.Default == nil && c.Enum == nil && c.Record.empty() && c.SetItem.empty()
}

// Diff is one structural difference between two Schemas.
type Diff struct {
	Kind       DiffKind
	Collection string

	// collectionAttribute fields
	Type            EditType
	Attribute       []string
	Metadata        *AttributeDescriptor
	Changes         *AttributeChanges
	IsNewCollection bool
}

// DiffSchemas computes the structured diff between old and new
// (spec.md §4.4). The result is sorted by (collection, attribute path,
// discriminant) so output is stable across runs (spec.md's determinism
// requirement).
func DiffSchemas(old, newSchema *Schema) []Diff {
	var diffs []Diff

	names := unionCollectionNames(old, newSchema)
	for _, name := range names {
		oldDef := collectionOf(old, name)
		newDef := collectionOf(newSchema, name)
		isNewCollection := oldDef == nil && newDef != nil

		diffs = append(diffs, diffAttributeMaps(name, nil, attrMapOf(oldDef), attrMapOf(newDef), isNewCollection)...)

		if d, ok := diffRules(name, oldDef, newDef); ok {
			diffs = append(diffs, d)
		}
		if d, ok := diffPermissions(name, oldDef, newDef); ok {
			diffs = append(diffs, d)
		}
	}

	if d, ok := diffRoles(old, newSchema); ok {
		diffs = append(diffs, d)
	}

	sortDiffs(diffs)
	return diffs
}

func unionCollectionNames(a, b *Schema) []string {
	seen := make(map[string]bool)
	var names []string
	if a != nil {
		for n := range a.Collections {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	if b != nil {
		for n := range b.Collections {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

func collectionOf(s *Schema, name string) *CollectionDef {
	if s == nil {
		return nil
	}
	return s.Collections[name]
}

func attrMapOf(def *CollectionDef) AttributeMap {
	if def == nil {
		return nil
	}
	return def.Schema
}

// diffAttributeMaps walks one level of an attribute tree (a collection's
// top-level schema, or a Record's Fields) and returns top-level
// insert/delete/update Diffs for this level. Nested Record/Set
// differences are folded into the single update Diff at their own path
// rather than emitted as separate Diffs (spec.md §8 scenario 2: a
// record whose nested field changed is reported as one flagged edit at
// the record's own path).
func diffAttributeMaps(collection string, basePath []string, oldMap, newMap AttributeMap, isNewCollection bool) []Diff {
	var diffs []Diff
	for _, name := range unionAttrNames(oldMap, newMap) {
		path := append(append([]string{}, basePath...), name)
		oldAttr := oldMap[name]
		newAttr := newMap[name]

		switch {
		case oldAttr == nil && newAttr != nil:
			diffs = append(diffs, Diff{
				Kind: KindCollectionAttribute, Collection: collection, Type: EditInsert,
				Attribute: path, Metadata: newAttr, IsNewCollection: isNewCollection,
			})
		case oldAttr != nil && newAttr == nil:
			diffs = append(diffs, Diff{
				Kind: KindCollectionAttribute, Collection: collection, Type: EditDelete,
				Attribute: path, Metadata: oldAttr,
			})
		default:
			if changes := diffDescriptors(oldAttr, newAttr); !changes.empty() {
				diffs = append(diffs, Diff{
					Kind: KindCollectionAttribute, Collection: collection, Type: EditUpdate,
					Attribute: path, Changes: changes,
				})
			}
		}
	}
	return diffs
}

func unionAttrNames(a, b AttributeMap) []string {
	seen := make(map[string]bool)
	var names []string
	for n := range a {
		seen[n] = true
		names = append(names, n)
	}
	for n := range b {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// diffDescriptors computes the AttributeChanges between two descriptors
// at the same path. Returns an empty (non-nil) *AttributeChanges if
// they're identical.
func diffDescriptors(oldAttr, newAttr *AttributeDescriptor) *AttributeChanges {
	changes := &AttributeChanges{}

	if oldAttr.Type != newAttr.Type {
		changes.Type = &TypeChange{From: oldAttr.Type, To: newAttr.Type}
	}
	if oldAttr.Optional != newAttr.Optional {
		changes.Optional = &BoolChange{From: oldAttr.Optional, To: newAttr.Optional}
	}
	if oldAttr.Options.Nullable != newAttr.Options.Nullable {
		changes.Nullable = &BoolChange{From: oldAttr.Options.Nullable, To: newAttr.Options.Nullable}
	}
	if !cmp.Equal(oldAttr.Options.Default, newAttr.Options.Default) {
		changes.Default = &DefaultChange{From: oldAttr.Options.Default, To: newAttr.Options.Default}
	}
	if !cmp.Equal(oldAttr.Options.Enum, newAttr.Options.Enum) {
		changes.Enum = &EnumChange{From: oldAttr.Options.Enum, To: newAttr.Options.Enum}
	}

	// Only meaningful to compare nested shape when both sides agree on
	// being a Record (resp. Set) after the type-change check above; if
	// the type itself changed, nested-shape comparison is moot.
	if oldAttr.Type == TypeRecord && newAttr.Type == TypeRecord {
		if rc := diffRecordFields(oldAttr.Fields, newAttr.Fields); !rc.empty() {
			changes.Record = rc
		}
	}
	if oldAttr.Type == TypeSet && newAttr.Type == TypeSet {
		if oldAttr.Item != nil && newAttr.Item != nil {
			if ic := diffDescriptors(oldAttr.Item, newAttr.Item); !ic.empty() {
				changes.SetItem = ic
			}
		}
	}

	return changes
}

func diffRecordFields(oldFields, newFields AttributeMap) *RecordChanges {
	rc := &RecordChanges{
		Added:   make(map[string]*AttributeDescriptor),
		Removed: make(map[string]*AttributeDescriptor),
		Updated: make(map[string]*AttributeChanges),
	}
	for _, name := range unionAttrNames(oldFields, newFields) {
		oldAttr := oldFields[name]
		newAttr := newFields[name]
		switch {
		case oldAttr == nil && newAttr != nil:
			rc.Added[name] = newAttr
		case oldAttr != nil && newAttr == nil:
			rc.Removed[name] = oldAttr
		default:
			if c := diffDescriptors(oldAttr, newAttr); !c.empty() {
				rc.Updated[name] = c
			}
		}
	}
	if len(rc.Added) == 0 {
		rc.Added = nil
	}
	if len(rc.Removed) == 0 {
		rc.Removed = nil
	}
	if len(rc.Updated) == 0 {
		rc.Updated = nil
	}
	return rc
}

func diffRules(collection string, oldDef, newDef *CollectionDef) (Diff, bool) {
	var oldRules, newRules RuleMap
	if oldDef != nil {
		oldRules = oldDef.Rules
	}
	if newDef != nil {
		newRules = newDef.Rules
	}
	if cmp.Equal(map[string]interface{}(oldRules), map[string]interface{}(newRules)) {
		return Diff{}, false
	}
	return Diff{Kind: KindCollectionRules, Collection: collection}, true
}

func diffPermissions(collection string, oldDef, newDef *CollectionDef) (Diff, bool) {
	var oldPerms, newPerms PermissionMap
	if oldDef != nil {
		oldPerms = oldDef.Permissions
	}
	if newDef != nil {
		newPerms = newDef.Permissions
	}
	if cmp.Equal(map[string]interface{}(oldPerms), map[string]interface{}(newPerms)) {
		return Diff{}, false
	}
	return Diff{Kind: KindCollectionPermissions, Collection: collection}, true
}

func diffRoles(old, newSchema *Schema) (Diff, bool) {
	var oldRoles, newRoles map[string]*Role
	if old != nil {
		oldRoles = old.Roles
	}
	if newSchema != nil {
		newRoles = newSchema.Roles
	}
	if cmp.Equal(oldRoles, newRoles) {
		return Diff{}, false
	}
	return Diff{Kind: KindRoles}, true
}

// discriminantOrder fixes a deterministic rank for each DiffKind so
// sortDiffs produces stable output (spec.md §4.4 determinism).
var discriminantOrder = map[DiffKind]int{
	KindCollectionAttribute:  0,
	KindCollectionRules:      1,
	KindCollectionPermissions: 2,
	KindRoles:                3,
}

func sortDiffs(diffs []Diff) {
	sort.SliceStable(diffs, func(i, j int) bool {
		a, b := diffs[i], diffs[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		ap, bp := strings.Join(a.Attribute, "."), strings.Join(b.Attribute, ".")
		if ap != bp {
			return ap < bp
		}
		return discriminantOrder[a.Kind] < discriminantOrder[b.Kind]
	})
}
