package schema

import (
	"time"

	"github.com/itoxiq/triplit/logger"
)

// DataStore is the minimal read surface the data-safety checker needs
// from a live triple store (spec.md §4.6: "scans entities by attribute
// index... rather than full table scans"). triple.DataStoreAdapter,
// wrapping a *triple.Tx, implements it; it's expressed as an interface
// here because triple imports schema, so schema importing triple would
// be an import cycle.
type DataStore interface {
	// EntityIDs returns every entity id currently in collection.
	EntityIDs(collection string) ([]string, error)

	// ValueAt returns the current (non-expired, latest-timestamp) value
	// at collection+path for the given entity, or found=false if no
	// current triple exists at that path. An explicit null is returned
	// as (nil, true, nil).
	ValueAt(collection string, entityID string, path []string) (value interface{}, found bool, err error)

	// SetMembersAt returns the current (true) members of a set
	// attribute at collection+path for the given entity.
	SetMembersAt(collection string, entityID string, path []string) ([]string, error)
}

// Issue reports whether one backwards-incompatible edit would corrupt
// or orphan data in the live database (spec.md §4.6).
type Issue struct {
	Diff                 Diff
	ViolatesExistingData bool
	Reason               string
}

// GetSchemaDiffIssues evaluates each incompatible edit against store
// and reports whether it actually violates the data on hand. Per
// spec.md §7 ("the checker is a read-only oracle"), this never returns
// an error for a data-shape mismatch — only for failures reading the
// store itself.
func GetSchemaDiffIssues(store DataStore, edits []IncompatibleEdit) ([]Issue, error) {
	issues := make([]Issue, 0, len(edits))
	for _, edit := range edits {
		issue, err := evaluateEdit(store, edit)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func evaluateEdit(store DataStore, edit IncompatibleEdit) (Issue, error) {
	d := edit.Diff
	ids, err := store.EntityIDs(d.Collection)
	if err != nil {
		return Issue{}, err
	}
	logger.TraceIf("schema-safety", "evaluating %s.%s (%s) against %d entities", d.Collection, joinAttrPath(d.Attribute), d.Type, len(ids))

	switch d.Type {
	case EditDelete:
		return checkDelete(store, d, ids)
	case EditInsert:
		return checkInsertRequired(store, d, ids)
	case EditUpdate:
		return checkUpdate(store, d, ids)
	}
	return Issue{Diff: d}, nil
}

func joinAttrPath(p []string) string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}

// checkDelete implements B1: any entity with a current non-null value
// at the deleted path makes this edit unsafe on this data.
func checkDelete(store DataStore, d Diff, ids []string) (Issue, error) {
	for _, id := range ids {
		v, found, err := store.ValueAt(d.Collection, id, d.Attribute)
		if err != nil {
			return Issue{}, err
		}
		if found && v != nil {
			return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a value at the deleted attribute"}, nil
		}
	}
	return Issue{Diff: d}, nil
}

// checkInsertRequired implements B2: any entity missing a value at the
// new required path makes this edit unsafe.
func checkInsertRequired(store DataStore, d Diff, ids []string) (Issue, error) {
	for _, id := range ids {
		_, found, err := store.ValueAt(d.Collection, id, d.Attribute)
		if err != nil {
			return Issue{}, err
		}
		if !found {
			return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has no value for the new required attribute"}, nil
		}
	}
	return Issue{Diff: d}, nil
}

func checkUpdate(store DataStore, d Diff, ids []string) (Issue, error) {
	c := d.Changes
	if c == nil {
		return Issue{Diff: d}, nil
	}

	if c.Type != nil {
		// B3: type mismatch at this path.
		for _, id := range ids {
			v, found, err := store.ValueAt(d.Collection, id, d.Attribute)
			if err != nil {
				return Issue{}, err
			}
			if found && v != nil && !matchesType(v, c.Type.To) {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a value incompatible with the new type"}, nil
			}
		}
	}

	if c.Optional != nil && c.Optional.From && !c.Optional.To {
		// B4: optional -> required.
		for _, id := range ids {
			_, found, err := store.ValueAt(d.Collection, id, d.Attribute)
			if err != nil {
				return Issue{}, err
			}
			if !found {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has no value for the now-required attribute"}, nil
			}
		}
	}

	if c.Nullable != nil && c.Nullable.From && !c.Nullable.To {
		// B5: nullable -> non-nullable.
		for _, id := range ids {
			v, found, err := store.ValueAt(d.Collection, id, d.Attribute)
			if err != nil {
				return Issue{}, err
			}
			if found && v == nil {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has an explicit null at the now non-nullable attribute"}, nil
			}
		}
	}

	if c.Enum != nil && isEnumUnsafe(c.Enum.From, c.Enum.To) {
		// B6: per spec.md §9 Open Questions, this intentionally checks
		// only the *current* data against the new enum, even though the
		// declared enum narrowed — a value that happens to still
		// satisfy the new enum is not flagged.
		for _, id := range ids {
			v, found, err := store.ValueAt(d.Collection, id, d.Attribute)
			if err != nil {
				return Issue{}, err
			}
			if found && v != nil && !inEnum(v, c.Enum.To) {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a value outside the new enum"}, nil
			}
		}
	}

	if c.Record != nil && recordChangeUnsafe(c.Record) {
		if issue, violates, err := checkRecordSubpaths(store, d, ids, c.Record); err != nil {
			return Issue{}, err
		} else if violates {
			return issue, nil
		}
	}

	if c.SetItem != nil && setItemChangeUnsafe(c.SetItem) {
		if issue, violates, err := checkSetItem(store, d, ids, c.SetItem); err != nil {
			return Issue{}, err
		} else if violates {
			return issue, nil
		}
	}

	return Issue{Diff: d}, nil
}

// checkRecordSubpaths implements B7's data-safety evaluation,
// recursing into each differing field's sub-path.
func checkRecordSubpaths(store DataStore, d Diff, ids []string, rc *RecordChanges) (Issue, bool, error) {
	for field, removed := range rc.Removed {
		_ = removed
		subPath := append(append([]string{}, d.Attribute...), field)
		for _, id := range ids {
			v, found, err := store.ValueAt(d.Collection, id, subPath)
			if err != nil {
				return Issue{}, false, err
			}
			if found && v != nil {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a value at removed record field " + field}, true, nil
			}
		}
	}
	for field, added := range rc.Added {
		if added.Optional {
			continue
		}
		subPath := append(append([]string{}, d.Attribute...), field)
		for _, id := range ids {
			_, found, err := store.ValueAt(d.Collection, id, subPath)
			if err != nil {
				return Issue{}, false, err
			}
			if !found {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has no value for new required record field " + field}, true, nil
			}
		}
	}
	for field, nested := range rc.Updated {
		if nested.Type == nil {
			continue
		}
		subPath := append(append([]string{}, d.Attribute...), field)
		for _, id := range ids {
			v, found, err := store.ValueAt(d.Collection, id, subPath)
			if err != nil {
				return Issue{}, false, err
			}
			if found && v != nil && !matchesType(v, nested.Type.To) {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a value incompatible with record field " + field + "'s new type"}, true, nil
			}
		}
	}
	return Issue{}, false, nil
}

// checkSetItem implements B8's data-safety evaluation: current set
// members are inspected, tombstoned members are ignored (spec.md §4.6:
// "For set attributes it inspects current membership only").
func checkSetItem(store DataStore, d Diff, ids []string, ic *AttributeChanges) (Issue, bool, error) {
	if ic.Type == nil {
		return Issue{}, false, nil
	}
	for _, id := range ids {
		members, err := store.SetMembersAt(d.Collection, id, d.Attribute)
		if err != nil {
			return Issue{}, false, err
		}
		for _, m := range members {
			if !matchesType(m, ic.Type.To) {
				return Issue{Diff: d, ViolatesExistingData: true, Reason: "entity " + id + " has a set member incompatible with the new item type"}, true, nil
			}
		}
	}
	return Issue{}, false, nil
}

func matchesType(v interface{}, t AttrType) bool {
	switch t {
	case TypeString, TypeID:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate:
		switch v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339Nano, v.(string))
			return err == nil
		}
		return false
	default:
		return true
	}
}

func inEnum(v interface{}, enum []interface{}) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}
