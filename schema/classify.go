package schema

// IncompatibleEdit pairs a Diff with the rule(s) (spec.md §4.5 B1-B8)
// that flagged it as backwards-incompatible, so callers and tests can
// see why an edit was flagged rather than just that it was.
type IncompatibleEdit struct {
	Diff  Diff
	Rules []string
}

// GetBackwardsIncompatibleEdits filters diffs down to the edits that
// could, on some database state, invalidate existing data (spec.md
// §4.5). Non-collectionAttribute diffs (rules/permissions/roles
// changes) are never flagged: enforcement-shape changes don't corrupt
// stored data (spec.md §4.5 "Safe, explicitly: ... rule/role/permission
// changes").
func GetBackwardsIncompatibleEdits(diffs []Diff) []IncompatibleEdit {
	var out []IncompatibleEdit
	for _, d := range diffs {
		if d.Kind != KindCollectionAttribute {
			continue
		}
		if rules := incompatibleRules(d); len(rules) > 0 {
			out = append(out, IncompatibleEdit{Diff: d, Rules: rules})
		}
	}
	return out
}

func incompatibleRules(d Diff) []string {
	var rules []string

	switch d.Type {
	case EditDelete:
		// B1: delete of a non-optional attribute.
		if d.Metadata != nil && !d.Metadata.Optional {
			rules = append(rules, "B1")
		}
		return rules

	case EditInsert:
		// B2: insert of a non-optional attribute.
		if d.Metadata != nil && !d.Metadata.Optional {
			rules = append(rules, "B2")
		}
		return rules

	case EditUpdate:
		c := d.Changes
		if c == nil {
			return rules
		}
		if c.Type != nil {
			// B3: type change.
			rules = append(rules, "B3")
		}
		if c.Optional != nil && c.Optional.From && !c.Optional.To {
			// B4: optional -> required.
			rules = append(rules, "B4")
		}
		if c.Nullable != nil && c.Nullable.From && !c.Nullable.To {
			// B5: nullable -> non-nullable.
			rules = append(rules, "B5")
		}
		if c.Enum != nil && isEnumUnsafe(c.Enum.From, c.Enum.To) {
			// B6: enum introduced or narrowed.
			rules = append(rules, "B6")
		}
		if c.Record != nil && recordChangeUnsafe(c.Record) {
			// B7: record field removed, field type changed, or a
			// non-optional field added.
			rules = append(rules, "B7")
		}
		if c.SetItem != nil && setItemChangeUnsafe(c.SetItem) {
			// B8: set item type change, or item nullability tightened.
			rules = append(rules, "B8")
		}
		return rules
	}
	return rules
}

// isEnumUnsafe implements B6. Going from an enum to no enum is always
// safe; going from no enum to an enum is unsafe (existing data might
// hold values outside it); going from one enum to another is safe iff
// the new enum is a superset of the old one (spec.md §4.5 B6, §9 Open
// Questions: the "current data happens to satisfy it" nuance belongs to
// the data-safety checker, not this classifier — classification asks
// only "could this possibly be violated", which enum-narrowing always
// could be).
func isEnumUnsafe(from, to []interface{}) bool {
	if to == nil {
		return false
	}
	if from == nil {
		return true
	}
	return !isSuperset(to, from)
}

func isSuperset(superset, subset []interface{}) bool {
	set := make(map[interface{}]bool, len(superset))
	for _, v := range superset {
		set[v] = true
	}
	for _, v := range subset {
		if !set[v] {
			return false
		}
	}
	return true
}

// recordChangeUnsafe implements B7.
func recordChangeUnsafe(rc *RecordChanges) bool {
	if len(rc.Removed) > 0 {
		return true
	}
	for _, added := range rc.Added {
		if !added.Optional {
			return true
		}
	}
	for _, upd := range rc.Updated {
		if upd.Type != nil {
			return true
		}
		// Nested Record/Set changes within a field, and other nested
		// tightening, are themselves unsafe by the same recursive rule.
		if upd.Record != nil && recordChangeUnsafe(upd.Record) {
			return true
		}
		if upd.SetItem != nil && setItemChangeUnsafe(upd.SetItem) {
			return true
		}
		if upd.Nullable != nil && upd.Nullable.From && !upd.Nullable.To {
			return true
		}
		if upd.Optional != nil && upd.Optional.From && !upd.Optional.To {
			return true
		}
		if upd.Enum != nil && isEnumUnsafe(upd.Enum.From, upd.Enum.To) {
			return true
		}
	}
	return false
}

// setItemChangeUnsafe implements B8.
func setItemChangeUnsafe(ic *AttributeChanges) bool {
	if ic.Type != nil {
		return true
	}
	if ic.Nullable != nil && ic.Nullable.From && !ic.Nullable.To {
		return true
	}
	return false
}
