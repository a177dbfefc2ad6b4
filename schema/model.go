// Package schema implements the schema model, the declarative schema
// builder, the schema-diff engine, backwards-incompatibility
// classification, the data-safety checker, and the typed RuleMap /
// PermissionMap / roles shapes spec.md §3–§4 describe (C5, C8, C9).
package schema

// AttrType is the discriminant of an AttributeDescriptor (spec.md §3:
// "a discriminated union over Id, String, Number, Boolean, Date,
// Set<item>, Record<fields>, Optional<inner>"). Optional is modeled as
// a flag on the descriptor rather than its own type, matching the
// observed diff shape in spec.md §4.4 ("changes.optional" is reported
// separately from "changes.type").
type AttrType string

const (
	TypeID      AttrType = "id"
	TypeString  AttrType = "string"
	TypeNumber  AttrType = "number"
	TypeBoolean AttrType = "boolean"
	TypeDate    AttrType = "date"
	TypeSet     AttrType = "set"
	TypeRecord  AttrType = "record"
)

// DefaultFunc names the function a DefaultSpec invokes to produce a
// default value.
type DefaultFunc string

const (
	DefaultUUID    DefaultFunc = "uuid"
	DefaultNow     DefaultFunc = "now"
	DefaultLiteral DefaultFunc = "literal"
)

// DefaultSpec describes how to generate a default value for an
// attribute that's missing one at write time.
type DefaultSpec struct {
	Func DefaultFunc `json:"func"`
	Args interface{} `json:"args,omitempty"`
}

// Options are the per-leaf modifiers every AttributeDescriptor carries.
type Options struct {
	Nullable bool          `json:"nullable"`
	Default  *DefaultSpec  `json:"default,omitempty"`
	Enum     []interface{} `json:"enum,omitempty"`
}

// AttributeDescriptor is a schema tree node. Leaf kinds (ID, String,
// Number, Boolean, Date) use only Options. Set uses Item for the member
// descriptor. Record uses Fields for its child AttributeMap.
type AttributeDescriptor struct {
	Type     AttrType     `json:"type"`
	Optional bool         `json:"optional,omitempty"`
	Options  Options      `json:"options"`
	Item     *AttributeDescriptor `json:"item,omitempty"`   // Type == TypeSet
	Fields   AttributeMap         `json:"fields,omitempty"` // Type == TypeRecord
}

// AttributeMap maps an attribute name to its descriptor.
type AttributeMap map[string]*AttributeDescriptor

// RuleMap and PermissionMap are opaque rule/permission blobs compared
// only by deep equality in the diff engine (spec.md §3, §4.4). Their
// internal shape is a free-form nested object; the schema package does
// not interpret them. Outside it, db interprets a collection's "write"
// rule when checking Insert/Update; nothing interprets PermissionMap.
type RuleMap map[string]interface{}
type PermissionMap map[string]interface{}

// CollectionDef is one named collection's schema plus its optional
// rule/permission blobs.
type CollectionDef struct {
	Schema      AttributeMap  `json:"schema"`
	Rules       RuleMap       `json:"rules,omitempty"`
	Permissions PermissionMap `json:"permissions,omitempty"`
}

// Role is an opaque matcher blob compared by deep equality, keyed by
// role name under Schema.Roles.
type Role struct {
	Match map[string]interface{} `json:"match"`
}

// Schema is the full `_schema` document: a version number, the set of
// collections, and the optional top-level roles map (spec.md §3).
type Schema struct {
	Version     int                      `json:"version"`
	Collections map[string]*CollectionDef `json:"collections"`
	Roles       map[string]*Role          `json:"roles,omitempty"`
}

// NewSchema creates an empty schema at version 0.
func NewSchema() *Schema {
	return &Schema{Collections: make(map[string]*CollectionDef)}
}

// Clone copies s so callers can mutate the copy (e.g. a migration
// building the next version) without aliasing the original's attribute
// descriptors, which are copied deeply. The Rules, Permissions and role
// Match maps are copied one level deep: values nested inside them are
// shared with the original.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Version: s.Version, Collections: make(map[string]*CollectionDef, len(s.Collections))}
	for name, def := range s.Collections {
		out.Collections[name] = cloneCollectionDef(def)
	}
	if s.Roles != nil {
		out.Roles = make(map[string]*Role, len(s.Roles))
		for name, r := range s.Roles {
			out.Roles[name] = &Role{Match: cloneMap(r.Match)}
		}
	}
	return out
}

func cloneCollectionDef(def *CollectionDef) *CollectionDef {
	if def == nil {
		return nil
	}
	return &CollectionDef{
		Schema:      cloneAttributeMap(def.Schema),
		Rules:       RuleMap(cloneMap(map[string]interface{}(def.Rules))),
		Permissions: PermissionMap(cloneMap(map[string]interface{}(def.Permissions))),
	}
}

func cloneAttributeMap(m AttributeMap) AttributeMap {
	if m == nil {
		return nil
	}
	out := make(AttributeMap, len(m))
	for name, d := range m {
		out[name] = cloneDescriptor(d)
	}
	return out
}

func cloneDescriptor(d *AttributeDescriptor) *AttributeDescriptor {
	if d == nil {
		return nil
	}
	out := &AttributeDescriptor{
		Type:     d.Type,
		Optional: d.Optional,
		Options:  d.Options,
	}
	if d.Options.Default != nil {
		def := *d.Options.Default
		out.Options.Default = &def
	}
	if d.Options.Enum != nil {
		out.Options.Enum = append([]interface{}{}, d.Options.Enum...)
	}
	if d.Item != nil {
		out.Item = cloneDescriptor(d.Item)
	}
	if d.Fields != nil {
		out.Fields = cloneAttributeMap(d.Fields)
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
