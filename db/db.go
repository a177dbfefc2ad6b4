// Package db wires the triple store, document codec, change-tracking
// write proxy, filter evaluator, schema engine, and migration executor
// behind the public operations spec.md §6 describes: an embeddable
// document database constructed with `db.New(opts...)` and driven
// through `Insert/Update/Fetch/FetchByID/Subscribe/Transact` plus the
// schema-editing and migration surface.
package db

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/codec"
	"github.com/itoxiq/triplit/config"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/filter"
	"github.com/itoxiq/triplit/logger"
	"github.com/itoxiq/triplit/migrate"
	"github.com/itoxiq/triplit/proxy"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

// DB is the embeddable facade (spec.md §6).
type DB struct {
	cfg *config.Config

	scopes map[string]*triple.Store
	order  []string // deterministic scope iteration order

	mu        sync.Mutex
	variables map[string]interface{}
}

// Scope restricts which named storage scopes a transaction reads from
// and writes to (spec.md §6 "Persisted layout": "transact(cb, { read:
// [...], write: [...] })"). A nil Scope, or one with both fields empty,
// means "every configured scope".
type Scope struct {
	Read  []string
	Write []string
}

// Query selects the collection Fetch/Subscribe operate over and an
// optional predicate tree to filter by.
type Query struct {
	Collection string
	Where      *filter.Predicate
}

// New resolves opts into a Config, opens one triple.Store per
// configured storage scope, and — per spec.md §6's "providing both
// schema and migrations is an error; providing neither yields a
// schemaless DB" — applies whichever of Config.Schema/Config.Migrations
// was supplied.
func New(opts ...config.Option) (*DB, error) {
	cfg, err := config.Resolve(opts...)
	if err != nil {
		return nil, err
	}

	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.TraceSubsystems != "" {
		logger.EnableTrace(strings.Split(cfg.TraceSubsystems, ",")...)
	}

	scopes := make(map[string]*triple.Store)
	var order []string
	for name, kvStore := range cfg.StorageScopes() {
		scopes[name] = triple.New(kvStore, cfg.Clock)
		order = append(order, name)
	}
	sort.Strings(order)

	d := &DB{cfg: cfg, scopes: scopes, order: order, variables: cfg.Variables}
	if d.variables == nil {
		d.variables = map[string]interface{}{}
	}

	switch {
	case cfg.Schema != nil:
		if err := d.OverrideSchema(cfg.Schema); err != nil {
			return nil, err
		}
	case len(cfg.Migrations) > 0:
		if err := d.Migrate(cfg.Migrations, migrate.Up); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// UpdateVariables merges updates into the process-wide session-variable
// scope (spec.md §5 "Shared resources"). In-flight Subscribe callbacks
// keep the snapshot they were created with.
func (d *DB) UpdateVariables(updates map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range updates {
		d.variables[k] = v
	}
}

// Variables returns a snapshot of the current session-variable scope.
func (d *DB) Variables() filter.Variables {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(filter.Variables, len(d.variables))
	for k, v := range d.variables {
		out[k] = v
	}
	return out
}

func (d *DB) resolveScope(s *Scope) (read, write []string) {
	if s == nil || (len(s.Read) == 0 && len(s.Write) == 0) {
		return d.order, d.order
	}
	read, write = s.Read, s.Write
	if len(read) == 0 {
		read = d.order
	}
	if len(write) == 0 {
		write = d.order
	}
	return read, write
}

// Tx is the handle passed to Transact callbacks, and the receiver of
// every document and schema operation (spec.md §6).
type Tx struct {
	db    *DB
	txs   map[string]*triple.Tx
	read  []string
	write []string
	vars  filter.Variables
}

// Transact opens one kv transaction per storage scope participating in
// scope's read/write sets and invokes fn once with a *Tx spanning all of
// them (spec.md §5 "Transactions"). Each backing scope commits (or
// cancels) independently — there is no two-phase commit across scopes,
// so a failure partway through a multi-scope write can leave scopes
// inconsistent with each other; this mirrors spec.md's single-threaded,
// single-adapter transaction model, which does not address cross-scope
// atomicity (documented as a scope decision, not silently assumed).
func (d *DB) Transact(fn func(*Tx) error, scope *Scope) error {
	read, write := d.resolveScope(scope)
	names := unionNames(read, write)
	vars := d.Variables()
	return d.transactScopes(names, func(txs map[string]*triple.Tx) error {
		return fn(&Tx{db: d, txs: txs, read: read, write: write, vars: vars})
	})
}

func (d *DB) transactScopes(names []string, fn func(map[string]*triple.Tx) error) error {
	return d.transactScopesRec(names, make(map[string]*triple.Tx, len(names)), fn)
}

func (d *DB) transactScopesRec(remaining []string, acc map[string]*triple.Tx, fn func(map[string]*triple.Tx) error) error {
	if len(remaining) == 0 {
		return fn(acc)
	}
	name := remaining[0]
	store, ok := d.scopes[name]
	if !ok {
		return errkit.New(errkit.InvalidMigrationOperation, "unknown storage scope %q", name)
	}
	return store.Transact(func(t *triple.Tx) error {
		acc[name] = t
		return d.transactScopesRec(remaining[1:], acc, fn)
	})
}

func unionNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, names := range [][]string{a, b} {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (tx *Tx) readTx() (*triple.Tx, error) {
	if len(tx.read) == 0 {
		return nil, errkit.New(errkit.InvalidMigrationOperation, "no read scope configured")
	}
	t, ok := tx.txs[tx.read[0]]
	if !ok {
		return nil, errkit.New(errkit.InvalidMigrationOperation, "read scope %q is not open in this transaction", tx.read[0])
	}
	return t, nil
}

func (tx *Tx) writeTxs() ([]*triple.Tx, error) {
	out := make([]*triple.Tx, 0, len(tx.write))
	for _, name := range tx.write {
		t, ok := tx.txs[name]
		if !ok {
			return nil, errkit.New(errkit.InvalidMigrationOperation, "write scope %q is not open in this transaction", name)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errkit.New(errkit.InvalidMigrationOperation, "no write scope configured")
	}
	return out, nil
}

func (tx *Tx) readSchema() (*schema.Schema, error) {
	reader, err := tx.readTx()
	if err != nil {
		return nil, err
	}
	return readSchemaVia(reader)
}

func readSchemaVia(reader *triple.Tx) (*schema.Schema, error) {
	s, found, err := reader.ReadSchema()
	if err != nil {
		return nil, err
	}
	if !found {
		return schema.NewSchema(), nil
	}
	return s, nil
}

func fieldsFor(s *schema.Schema, collection string) schema.AttributeMap {
	if s == nil {
		return nil
	}
	def, ok := s.Collections[collection]
	if !ok || def == nil {
		return nil
	}
	return def.Schema
}

// Insert writes doc as a new entity in collection, generating an id
// (optionally tenant-namespaced, see Config.TenantID) when none is
// given (spec.md §6 "insert(collection, doc, id?)").
func (tx *Tx) Insert(collection string, doc codec.Document, id ...string) (clock.Timestamp, error) {
	s, err := tx.readSchema()
	if err != nil {
		return clock.Timestamp{}, err
	}
	fields := fieldsFor(s, collection)
	if fields != nil {
		doc = codec.MaterializeDefaults(fields, doc)
		if err := validateUnknownAttributes(fields, doc); err != nil {
			return clock.Timestamp{}, err
		}
	}

	externalID := tx.db.mintExternalID()
	if len(id) > 0 && id[0] != "" {
		externalID = id[0]
	}
	e, err := triple.NewEntityID(collection, externalID)
	if err != nil {
		return clock.Timestamp{}, err
	}

	writers, err := tx.writeTxs()
	if err != nil {
		return clock.Timestamp{}, err
	}
	ts := writers[0].Clock().Now()
	triples := codec.PlainToTriples(collection, e, doc, ts)
	for _, w := range writers {
		if err := w.Write(triples); err != nil {
			return clock.Timestamp{}, err
		}
	}

	if err := tx.checkWriteRule(writers[0], s, collection, e, fields); err != nil {
		return clock.Timestamp{}, err
	}
	return ts, nil
}

// Update fetches collection/id's current document, runs mutator against
// a write proxy over it, and commits the resulting triples (spec.md §6
// "update(collection, id, mutator)"). Raises EntityNotFound if no such
// entity currently exists.
func (tx *Tx) Update(collection, id string, mutator func(*proxy.Handle)) error {
	s, err := tx.readSchema()
	if err != nil {
		return err
	}
	fields := fieldsFor(s, collection)

	reader, err := tx.readTx()
	if err != nil {
		return err
	}
	e, err := triple.NewEntityID(collection, id)
	if err != nil {
		return err
	}
	current, err := reader.ScanEntity(e)
	if err != nil {
		return err
	}
	live := false
	for _, t := range current {
		if !t.Expired {
			live = true
			break
		}
	}
	if !live {
		return errkit.New(errkit.EntityNotFound, "no entity %s in collection %q", id, collection)
	}
	base := codec.TimestampedToPlain(codec.TriplesToTimestamped(current, collection, fields))

	h := proxy.New(collection, fields, base)
	mutator(h)
	if err := h.ApplyDefaults(); err != nil {
		return err
	}

	writers, err := tx.writeTxs()
	if err != nil {
		return err
	}
	ts := writers[0].Clock().Now()
	triples := h.Commit(e, ts)
	for _, w := range writers {
		if err := w.Write(triples); err != nil {
			return err
		}
	}

	return tx.checkWriteRule(writers[0], s, collection, e, fields)
}

// checkWriteRule re-reads the entity's post-write state and evaluates
// the collection's "write" rule against it (spec.md §4.2 "Write-rule
// check": "after staging, the entity's post-update value is
// re-evaluated ... failure raises WriteRuleViolation and aborts the
// transaction"). Returning an error here, after a tentative Write, is
// enough to abort: the caller's enclosing triple.Store.Transact cancels
// the whole kv transaction when fn returns non-nil, so a rejected write
// never actually commits.
func (tx *Tx) checkWriteRule(reader *triple.Tx, s *schema.Schema, collection string, e triple.EntityID, fields schema.AttributeMap) error {
	def := s.Collections[collection]
	if def == nil || def.Rules == nil {
		return nil
	}
	raw, ok := def.Rules["write"]
	if !ok {
		return nil
	}
	current, err := reader.ScanEntity(e)
	if err != nil {
		return err
	}
	doc := codec.TimestampedToPlain(codec.TriplesToTimestamped(current, collection, fields))
	return evaluateWriteRule(raw, documentEntity{doc}, tx.vars)
}

// Fetch evaluates q against every entity in q.Collection, returning the
// plain documents that match (spec.md §6 "fetch(query, scope?)").
func (tx *Tx) Fetch(q Query) ([]codec.Document, error) {
	reader, err := tx.readTx()
	if err != nil {
		return nil, err
	}
	s, err := readSchemaVia(reader)
	if err != nil {
		return nil, err
	}
	fields := fieldsFor(s, q.Collection)

	ids, err := reader.EntityIDsInCollection(q.Collection)
	if err != nil {
		return nil, err
	}

	var out []codec.Document
	for _, id := range ids {
		triples, err := reader.ScanEntity(id)
		if err != nil {
			return nil, err
		}
		doc := codec.TimestampedToPlain(codec.TriplesToTimestamped(triples, q.Collection, fields))
		if q.Where != nil {
			ok, err := filter.Evaluate(*q.Where, documentEntity{doc}, tx.vars)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// FetchByID returns collection/id's current plain document, and
// found=false if no such entity currently exists (spec.md §6
// "fetchById(collection, id)").
func (tx *Tx) FetchByID(collection, id string) (codec.Document, bool, error) {
	reader, err := tx.readTx()
	if err != nil {
		return nil, false, err
	}
	e, err := triple.NewEntityID(collection, id)
	if err != nil {
		return nil, false, err
	}
	triples, err := reader.ScanEntity(e)
	if err != nil {
		return nil, false, err
	}
	live := false
	for _, t := range triples {
		if !t.Expired {
			live = true
			break
		}
	}
	if !live {
		return nil, false, nil
	}
	s, err := readSchemaVia(reader)
	if err != nil {
		return nil, false, err
	}
	fields := fieldsFor(s, collection)
	doc := codec.TimestampedToPlain(codec.TriplesToTimestamped(triples, collection, fields))
	return doc, true, nil
}

// applyAdHocOp applies op as a one-off migration from the current
// schema version to the next, against every configured write scope —
// the shape CreateCollection/DropCollection/AddAttribute/DropAttribute/
// RenameAttribute share (spec.md §6). Every write scope must already
// agree on the current schema version: scopes computing their own
// next version independently would let an already-diverged pair of
// scopes (see the "Multi-scope transaction decision" in DESIGN.md)
// silently drift further apart with each ad-hoc edit instead of
// surfacing the problem.
func (tx *Tx) applyAdHocOp(op migrate.Op) error {
	writers, err := tx.writeTxs()
	if err != nil {
		return err
	}
	version, err := commonSchemaVersion(writers)
	if err != nil {
		return err
	}
	m := migrate.Migration{Version: version + 1, Parent: version, Up: []migrate.Op{op}}
	for _, w := range writers {
		if _, err := migrate.Apply(w, m, migrate.Up); err != nil {
			return err
		}
	}
	return nil
}

// commonSchemaVersion reads every writer's current schema version and
// requires them to agree before an ad-hoc schema edit proceeds,
// raising SchemaVersionMismatch (spec.md §6 "Error kinds surfaced to
// callers") when they don't. A caller whose scopes have diverged needs
// to reconcile them (e.g. via Migrate against the lagging scope)
// rather than have applyAdHocOp paper over the disagreement.
func commonSchemaVersion(writers []*triple.Tx) (int, error) {
	version := -1
	for _, w := range writers {
		cur, found, err := w.ReadSchema()
		if err != nil {
			return 0, err
		}
		v := 0
		if found {
			v = cur.Version
		}
		if version == -1 {
			version = v
			continue
		}
		if v != version {
			return 0, errkit.New(errkit.SchemaVersionMismatch, "write scopes disagree on schema version: %d vs %d", version, v)
		}
	}
	if version == -1 {
		version = 0
	}
	return version, nil
}

func (tx *Tx) CreateCollection(name string, attrs schema.AttributeMap) error {
	return tx.applyAdHocOp(migrate.Op{Kind: migrate.OpCreateCollection, Collection: name, Attrs: attrs})
}

func (tx *Tx) DropCollection(name string, purgeData bool) error {
	return tx.applyAdHocOp(migrate.Op{Kind: migrate.OpDropCollection, Collection: name, PurgeData: purgeData})
}

func (tx *Tx) AddAttribute(collection string, path []string, descriptor *schema.AttributeDescriptor) error {
	return tx.applyAdHocOp(migrate.Op{Kind: migrate.OpAddAttribute, Collection: collection, Attribute: path, Descriptor: descriptor})
}

func (tx *Tx) DropAttribute(collection string, path []string) error {
	return tx.applyAdHocOp(migrate.Op{Kind: migrate.OpDropAttribute, Collection: collection, Attribute: path})
}

func (tx *Tx) RenameAttribute(collection string, oldPath, newPath []string) error {
	return tx.applyAdHocOp(migrate.Op{Kind: migrate.OpRenameAttribute, Collection: collection, Attribute: oldPath, NewAttribute: newPath})
}

// Migrate applies migrations, in order for Up and in reverse for Down
// (spec.md §4.7), against every configured write scope.
func (tx *Tx) Migrate(migrations []migrate.Migration, dir migrate.Direction) error {
	writers, err := tx.writeTxs()
	if err != nil {
		return err
	}
	ordered := migrations
	if dir == migrate.Down {
		ordered = make([]migrate.Migration, len(migrations))
		for i, m := range migrations {
			ordered[len(migrations)-1-i] = m
		}
	}
	for _, w := range writers {
		for _, m := range ordered {
			if _, err := migrate.Apply(w, m, dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// OverrideSchema replaces `_schema` wholesale with s, without running
// any migration (spec.md §6: "for test and admin use").
func (tx *Tx) OverrideSchema(s *schema.Schema) error {
	writers, err := tx.writeTxs()
	if err != nil {
		return err
	}
	for _, w := range writers {
		ts := w.Clock().Now()
		if err := w.WriteSchema(s, ts); err != nil {
			return err
		}
	}
	return nil
}

// --- top-level convenience wrappers, each opening its own Transact ---

func (d *DB) Insert(collection string, doc codec.Document, id ...string) (clock.Timestamp, error) {
	var ts clock.Timestamp
	err := d.Transact(func(tx *Tx) error {
		var err error
		ts, err = tx.Insert(collection, doc, id...)
		return err
	}, nil)
	return ts, err
}

func (d *DB) Update(collection, id string, mutator func(*proxy.Handle)) error {
	return d.Transact(func(tx *Tx) error { return tx.Update(collection, id, mutator) }, nil)
}

func (d *DB) Fetch(q Query, scope ...*Scope) ([]codec.Document, error) {
	var sc *Scope
	if len(scope) > 0 {
		sc = scope[0]
	}
	var docs []codec.Document
	err := d.Transact(func(tx *Tx) error {
		var err error
		docs, err = tx.Fetch(q)
		return err
	}, sc)
	return docs, err
}

func (d *DB) FetchByID(collection, id string) (codec.Document, bool, error) {
	var doc codec.Document
	var found bool
	err := d.Transact(func(tx *Tx) error {
		var err error
		doc, found, err = tx.FetchByID(collection, id)
		return err
	}, nil)
	return doc, found, err
}

func (d *DB) CreateCollection(name string, attrs schema.AttributeMap) error {
	return d.Transact(func(tx *Tx) error { return tx.CreateCollection(name, attrs) }, nil)
}

func (d *DB) DropCollection(name string, purgeData bool) error {
	return d.Transact(func(tx *Tx) error { return tx.DropCollection(name, purgeData) }, nil)
}

func (d *DB) AddAttribute(collection string, path []string, descriptor *schema.AttributeDescriptor) error {
	return d.Transact(func(tx *Tx) error { return tx.AddAttribute(collection, path, descriptor) }, nil)
}

func (d *DB) DropAttribute(collection string, path []string) error {
	return d.Transact(func(tx *Tx) error { return tx.DropAttribute(collection, path) }, nil)
}

func (d *DB) RenameAttribute(collection string, oldPath, newPath []string) error {
	return d.Transact(func(tx *Tx) error { return tx.RenameAttribute(collection, oldPath, newPath) }, nil)
}

func (d *DB) Migrate(migrations []migrate.Migration, dir migrate.Direction) error {
	return d.Transact(func(tx *Tx) error { return tx.Migrate(migrations, dir) }, nil)
}

func (d *DB) OverrideSchema(s *schema.Schema) error {
	return d.Transact(func(tx *Tx) error { return tx.OverrideSchema(s) }, nil)
}

// Subscribe computes q's initial result synchronously, delivering it
// via onResults, then re-runs the query and redelivers after every
// committed transaction that wrote triples on any configured scope (spec.md §5
// "Subscriptions"). The returned unsubscribe is idempotent.
func (d *DB) Subscribe(q Query, onResults func([]codec.Document), onError func(error)) (unsubscribe func()) {
	deliver := func() {
		docs, err := d.Fetch(q)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onResults(docs)
	}
	deliver()

	cancels := make([]func(), 0, len(d.order))
	for _, name := range d.order {
		cancels = append(cancels, d.scopes[name].OnChange(deliver))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, c := range cancels {
				c()
			}
		})
	}
}

func (d *DB) mintExternalID() string {
	if d.cfg.TenantID != "" {
		return d.cfg.TenantID + ":" + triple.GenerateExternalID()
	}
	return triple.GenerateExternalID()
}

func validateUnknownAttributes(fields schema.AttributeMap, doc codec.Document) error {
	for k, v := range doc {
		descriptor, ok := fields[k]
		if !ok {
			return errkit.New(errkit.UnknownAttribute, "unknown attribute %q", k)
		}
		if descriptor.Type == schema.TypeRecord {
			if nested, ok := asDocument(v); ok {
				if err := validateUnknownAttributes(descriptor.Fields, nested); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// documentEntity adapts a materialized plain document to filter.Entity,
// letting Fetch's predicate tree and the write-rule checker share one
// evaluation path over the same TimestampedToPlain output.
type documentEntity struct{ doc codec.Document }

func (d documentEntity) ValueAt(path []string) (interface{}, bool) {
	var cur interface{} = d.doc
	for _, seg := range path {
		m, ok := asDocument(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func (d documentEntity) SetMembersAt(path []string) []interface{} {
	v, ok := d.ValueAt(path)
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case codec.Set:
		out := make([]interface{}, len(s))
		copy(out, s)
		return out
	case []interface{}:
		return s
	default:
		return nil
	}
}

func asDocument(v interface{}) (codec.Document, bool) {
	switch m := v.(type) {
	case codec.Document:
		return m, true
	case map[string]interface{}:
		return codec.Document(m), true
	default:
		return nil, false
	}
}

// evaluateWriteRule interprets a collection's opaque "write" rule blob
// as `{"filter": [predicate | bool, ...]}` (spec.md §4.2, §8 scenario 6
// "write rule filter: [false]"): every item in filter must pass —
// a bool is a literal pass/fail, anything else is decoded as a
// filter.Predicate. An unrecognized rule shape is permissive, since
// rule *enforcement* at the wire level is explicitly out of scope
// (spec.md §1) — the diff engine is what guarantees the shape, not this
// checker.
func evaluateWriteRule(raw interface{}, entity filter.Entity, vars filter.Variables) error {
	ruleObj, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := ruleObj["filter"].([]interface{})
	if !ok {
		return nil
	}
	for _, item := range items {
		ok, err := evalRuleFilterItem(item, entity, vars)
		if err != nil {
			return err
		}
		if !ok {
			return errkit.New(errkit.WriteRuleViolation, "write rule rejected the entity")
		}
	}
	return nil
}

func evalRuleFilterItem(item interface{}, entity filter.Entity, vars filter.Variables) (bool, error) {
	switch v := item.(type) {
	case bool:
		return v, nil
	case map[string]interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return false, errkit.Wrap(errkit.InvalidMigrationOperation, err, "encoding write rule predicate")
		}
		var pred filter.Predicate
		if err := json.Unmarshal(raw, &pred); err != nil {
			return false, errkit.Wrap(errkit.InvalidMigrationOperation, err, "decoding write rule predicate")
		}
		return filter.Evaluate(pred, entity, vars)
	default:
		return true, nil
	}
}
