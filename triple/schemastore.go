package triple

import (
	"encoding/json"

	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/kv"
	"github.com/itoxiq/triplit/schema"
)

// DataStoreAdapter exposes a *Tx as a schema.DataStore, letting the
// data-safety checker (C9) scan a live store without the schema package
// importing triple (see schema.DataStore's doc comment).
type DataStoreAdapter struct {
	tx *Tx
}

// AsDataStore wraps tx for use with schema.GetSchemaDiffIssues.
func (tx *Tx) AsDataStore() schema.DataStore { return &DataStoreAdapter{tx: tx} }

func (a *DataStoreAdapter) EntityIDs(collection string) ([]string, error) {
	ids, err := a.tx.EntityIDsInCollection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.ExternalID()
	}
	return out, nil
}

func (a *DataStoreAdapter) ValueAt(collection, entityID string, path []string) (interface{}, bool, error) {
	e, err := NewEntityID(collection, entityID)
	if err != nil {
		return nil, false, err
	}
	full := Path(append([]string{collection}, path...))
	cur, found, err := a.tx.CurrentValue(e, full)
	if err != nil || !found || cur.Expired {
		return nil, false, err
	}
	return cur.V, true, nil
}

func (a *DataStoreAdapter) SetMembersAt(collection, entityID string, path []string) ([]string, error) {
	e, err := NewEntityID(collection, entityID)
	if err != nil {
		return nil, err
	}
	full := Path(append([]string{collection}, path...))
	prefix := kv.Tuple(append([]interface{}{indexEAV, string(e)}, pathToParts(full)...)...)
	entries, err := a.tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}

	type memberState struct {
		member string
		value  bool
	}
	latest := make(map[string]memberState)
	for _, ent := range entries {
		segs := splitKey(ent.Key)
		if len(segs) < 5 {
			continue
		}
		member := segs[len(segs)-3]
		var env envelope
		if err := json.Unmarshal(ent.Value, &env); err != nil {
			return nil, errkit.Wrap(errkit.InvalidEntityId, err, "decoding set member value")
		}
		b, _ := env.V.(bool)
		latest[member] = memberState{member: member, value: b}
	}

	var out []string
	for _, st := range latest {
		if st.value {
			out = append(out, st.member)
		}
	}
	return out, nil
}
