package triple

import (
	"encoding/json"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/schema"
)

// schemaEntity is the single entity the schema document lives at.
var schemaEntity = EntityID(SchemaCollection + "#" + SchemaEntityID)

// schemaDocPath is the sole attribute path the schema's serialized form
// is stored at. The schema document's own shape — attribute
// descriptors, and in particular an enum's literal, order-preserving
// value array — doesn't fit the generic per-field codec used for
// ordinary collections (that codec treats every array as CRDT-set
// membership, which would scramble enum ordering and coerce numeric
// enum values to path-segment strings). It is kept instead as a single
// JSON-encoded triple, still written and read through the same store
// and the same transaction as any accompanying data migration
// (spec.md §3: "the `_schema` document is itself modeled as triples
// and read/written through the same store, giving schema changes
// transactional semantics with data changes").
var schemaDocPath = Path{SchemaCollection, "document"}

// WriteSchema persists s as the current schema, stamped with ts.
func (tx *Tx) WriteSchema(s *schema.Schema, ts clock.Timestamp) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errkit.Wrap(errkit.InvalidMigrationOperation, err, "encoding schema document")
	}
	return tx.Write([]Triple{
		{E: schemaEntity, A: Path{CollectionMarkerAttr}, V: SchemaCollection, T: ts},
		{E: schemaEntity, A: schemaDocPath, V: string(raw), T: ts},
	})
}

// ReadSchema returns the current schema, or found=false if none has
// ever been written (a freshly constructed, schemaless DB).
func (tx *Tx) ReadSchema() (*schema.Schema, bool, error) {
	cur, found, err := tx.CurrentValue(schemaEntity, schemaDocPath)
	if err != nil || !found || cur.Expired {
		return nil, false, err
	}
	raw, ok := cur.V.(string)
	if !ok {
		return nil, false, errkit.New(errkit.InvalidMigrationOperation, "schema document triple has non-string value")
	}
	var s schema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, errkit.Wrap(errkit.InvalidMigrationOperation, err, "decoding schema document")
	}
	return &s, true, nil
}
