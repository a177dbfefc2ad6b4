package schema

// Builder offers the declarative schema construction surface described
// in spec.md §3/§6: a small set of constructors for leaf descriptors
// plus Record/Set/Optional combinators, and a Collections helper to
// assemble a full Schema. Modeled on the teacher's hierarchical tag
// namespace DSL (models/tag_namespace.go) but generalized from tag
// strings to a typed attribute tree.

// Id returns an id-typed attribute descriptor. Every collection
// implicitly has one (spec.md §3: "An entity's id field equals the
// suffix of E after #"), but it may also be declared explicitly.
func Id() *AttributeDescriptor { return &AttributeDescriptor{Type: TypeID} }

// String returns a string-typed leaf descriptor, with optional modifiers.
func String(opts ...OptionFunc) *AttributeDescriptor {
	return leaf(TypeString, opts...)
}

// Number returns a number-typed leaf descriptor.
func Number(opts ...OptionFunc) *AttributeDescriptor {
	return leaf(TypeNumber, opts...)
}

// Boolean returns a boolean-typed leaf descriptor.
func Boolean(opts ...OptionFunc) *AttributeDescriptor {
	return leaf(TypeBoolean, opts...)
}

// Date returns a date-typed leaf descriptor.
func Date(opts ...OptionFunc) *AttributeDescriptor {
	return leaf(TypeDate, opts...)
}

// Set returns a set-typed descriptor whose members are item-typed.
func Set(item *AttributeDescriptor, opts ...OptionFunc) *AttributeDescriptor {
	d := &AttributeDescriptor{Type: TypeSet, Item: item}
	for _, o := range opts {
		o(&d.Options)
	}
	return d
}

// Record returns a record-typed descriptor over the given fields.
func Record(fields AttributeMap) *AttributeDescriptor {
	return &AttributeDescriptor{Type: TypeRecord, Fields: fields}
}

// Optional wraps d, marking it optional at this path. It mutates a
// shallow copy of d rather than d itself so the same descriptor value
// can be reused both bare and wrapped.
func Optional(d *AttributeDescriptor) *AttributeDescriptor {
	out := *d
	out.Optional = true
	return &out
}

func leaf(t AttrType, opts ...OptionFunc) *AttributeDescriptor {
	d := &AttributeDescriptor{Type: t}
	for _, o := range opts {
		o(&d.Options)
	}
	return d
}

// OptionFunc mutates an Options value; used as variadic modifiers to
// the leaf constructors.
type OptionFunc func(*Options)

// Nullable marks the attribute nullable.
func Nullable() OptionFunc {
	return func(o *Options) { o.Nullable = true }
}

// WithEnum restricts the attribute's values to the given set.
func WithEnum(values ...interface{}) OptionFunc {
	return func(o *Options) { o.Enum = values }
}

// WithDefault attaches a default-value spec to the attribute.
func WithDefault(spec DefaultSpec) OptionFunc {
	return func(o *Options) { o.Default = &spec }
}

// Collection builds a CollectionDef from an attribute map plus optional
// rules/permissions.
func Collection(attrs AttributeMap, opts ...CollectionOptionFunc) *CollectionDef {
	def := &CollectionDef{Schema: attrs}
	for _, o := range opts {
		o(def)
	}
	return def
}

// CollectionOptionFunc mutates a CollectionDef being built by Collection.
type CollectionOptionFunc func(*CollectionDef)

// WithRules attaches a write/read rule blob to a collection.
func WithRules(rules RuleMap) CollectionOptionFunc {
	return func(c *CollectionDef) { c.Rules = rules }
}

// WithPermissions attaches a permission blob to a collection.
func WithPermissions(perms PermissionMap) CollectionOptionFunc {
	return func(c *CollectionDef) { c.Permissions = perms }
}

// Build assembles a full Schema from a map of collection name to
// CollectionDef, at the given version.
func Build(version int, collections map[string]*CollectionDef, roles map[string]*Role) *Schema {
	return &Schema{Version: version, Collections: collections, Roles: roles}
}
