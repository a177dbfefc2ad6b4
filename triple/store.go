package triple

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/errkit"
	"github.com/itoxiq/triplit/kv"
	"github.com/itoxiq/triplit/logger"
)

// SchemaCollection is the reserved collection name the schema document
// lives under (spec.md §3: "the `_schema` namespace").
const SchemaCollection = "_schema"

// SchemaEntityID is the single entity the schema document is stored as.
const SchemaEntityID = "root"

const (
	indexEAV = "eav" // Tuple(eav, E, A..., tick, clientId) -> envelope
	indexAEV = "aev" // Tuple(aev, collection, A..., E, tick, clientId) -> envelope
)

type envelope struct {
	V       interface{} `json:"v"`
	Expired bool        `json:"expired"`
}

// Store is the EAV triple store: indexes over a kv.Store, a logical
// clock for commit timestamps, and a bounded cache of recent
// current-value lookups in front of the read path.
type Store struct {
	kv    kv.Store
	clock clock.Clock
	cache *valueCache

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextListener int
}

// New creates a Store over kvStore, stamping writes with clock.
func New(kvStore kv.Store, c clock.Clock) *Store {
	return &Store{kv: kvStore, clock: c, cache: newValueCache(4096), listeners: make(map[int]func())}
}

// Transact opens a kv transaction and exposes the store's read/write
// operations scoped to it via a *Tx (spec.md §5 "Transactions"). Every
// registered change listener runs once after a successful commit that
// wrote at least one triple (spec.md §5 "Subscriptions": "reacts to
// triple-store change notifications"); a read-only transaction notifies
// no one. A failed transaction empties the value cache, because reads
// inside it may have cached values that it wrote and never committed.
func (s *Store) Transact(fn func(*Tx) error) error {
	wrote := false
	err := s.kv.Transact(func(kvTx kv.Txn) error {
		tx := &Tx{store: s, kv: kvTx}
		err := fn(tx)
		wrote = tx.wrote
		return err
	})
	if err != nil {
		s.cache.lru.Purge()
		return err
	}
	if wrote {
		s.notifyListeners()
	}
	return nil
}

// OnChange registers fn to run after every committed transaction that
// wrote at least one triple.
// Cancel deregisters fn; calling it more than once is a no-op.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) notifyListeners() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Tx is a triple-store transaction: every read it performs sees its own
// prior writes plus a consistent snapshot of everything already
// committed (spec.md §5 "Isolation").
type Tx struct {
	store *Store
	kv    kv.Txn
	wrote bool
}

// Clock returns the store's logical clock, so callers (e.g. the write
// proxy) can obtain a single commit timestamp shared by every triple in
// one transaction (spec.md §5 "Ordering").
func (tx *Tx) Clock() clock.Clock { return tx.store.clock }

// Write persists triples, each at its own T; callers that want one
// commit timestamp per transaction stamp every triple with it. Existing triples for the same (E,A) are not removed — the store keeps
// history and determines the "current" value by max timestamp
// (spec.md §3 invariants).
func (tx *Tx) Write(triples []Triple) error {
	for _, t := range triples {
		if err := t.E.validate(); err != nil {
			return err
		}
		env := envelope{V: t.V, Expired: t.Expired}
		raw, err := json.Marshal(env)
		if err != nil {
			return errkit.Wrap(errkit.InvalidEntityId, err, "encoding triple value")
		}

		eavKey := kv.Tuple(append(eavParts(t.E, t.A), t.T.Tick, t.T.ClientID)...)
		if err := tx.kv.Set(eavKey, kv.Value(raw)); err != nil {
			return err
		}

		aevKey := kv.Tuple(append(aevParts(t.E.Collection(), t.A, t.E), t.T.Tick, t.T.ClientID)...)
		if err := tx.kv.Set(aevKey, kv.Value(raw)); err != nil {
			return err
		}
		tx.wrote = true

		tx.store.cache.invalidate(t.E, t.A)
	}
	return nil
}

func eavParts(e EntityID, a Path) []interface{} {
	parts := make([]interface{}, 0, len(a)+2)
	parts = append(parts, indexEAV, string(e))
	for _, seg := range a {
		parts = append(parts, seg)
	}
	return parts
}

func aevParts(collection string, a Path, e EntityID) []interface{} {
	parts := make([]interface{}, 0, len(a)+3)
	parts = append(parts, indexAEV, collection)
	for _, seg := range a {
		parts = append(parts, seg)
	}
	parts = append(parts, string(e))
	return parts
}

// versionsForEntityAttr scans every version (all timestamps) stored for
// a single (E,A) pair, ascending by timestamp.
func (tx *Tx) versionsForEntityAttr(e EntityID, a Path) ([]Triple, error) {
	prefix := kv.Tuple(eavParts(e, a)...)
	entries, err := tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}
	return decodeVersions(entries, e, a)
}

func decodeVersions(entries []kv.Entry, e EntityID, a Path) ([]Triple, error) {
	out := make([]Triple, 0, len(entries))
	for _, ent := range entries {
		tick, clientID, ok := trailingTickClientID(ent.Key)
		if !ok {
			continue
		}
		var env envelope
		if err := json.Unmarshal(ent.Value, &env); err != nil {
			return nil, errkit.Wrap(errkit.InvalidEntityId, err, "decoding triple value")
		}
		out = append(out, Triple{
			E: e, A: a, V: env.V, Expired: env.Expired,
			T: clock.Timestamp{Tick: tick, ClientID: clientID},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].T.Before(out[j].T) })
	return out, nil
}

// CurrentValue returns the (E,A) triple with the highest timestamp, if
// any exists, regardless of whether it is a tombstone — callers check
// Expired to tell "deleted" from "present" (spec.md §3 invariants: "the
// logical value at any path is the triple with the maximum T").
func (tx *Tx) CurrentValue(e EntityID, a Path) (Triple, bool, error) {
	if cached, ok := tx.store.cache.get(e, a); ok {
		return cached, true, nil
	}

	versions, err := tx.versionsForEntityAttr(e, a)
	if err != nil {
		return Triple{}, false, err
	}
	if len(versions) == 0 {
		return Triple{}, false, nil
	}
	current := versions[len(versions)-1]
	tx.store.cache.put(e, a, current)
	return current, true, nil
}

// ScanEntity returns the current triple for every distinct attribute
// path the entity has ever had a value at (spec.md §4.1 "Triples ->
// timestamped object"), including expired ones; callers check Expired
// to tell a tombstoned path from a live one (the codec drops them).
func (tx *Tx) ScanEntity(e EntityID) ([]Triple, error) {
	prefix := kv.Tuple(indexEAV, string(e))
	entries, err := tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string][]kv.Entry)
	paths := make(map[string]Path)
	var order []string
	for _, ent := range entries {
		path, ok := pathFromEAVKey(ent.Key, string(e))
		if !ok {
			continue
		}
		key := string(kv.Tuple(pathToParts(path)...))
		if _, seen := byPath[key]; !seen {
			order = append(order, key)
			paths[key] = path
		}
		byPath[key] = append(byPath[key], ent)
	}

	var out []Triple
	for _, key := range order {
		group := byPath[key]
		path := paths[key]
		versions, err := decodeVersions(group, e, path)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		out = append(out, versions[len(versions)-1])
	}
	return out, nil
}

// EntityIDsInCollection lists every entity currently carrying the
// CollectionMarkerAttr = collection triple, scanning by attribute index
// rather than a full store scan (spec.md §4.6).
func (tx *Tx) EntityIDsInCollection(collection string) ([]EntityID, error) {
	prefix := kv.Tuple(indexAEV, collection, CollectionMarkerAttr)
	entries, err := tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[EntityID]bool)
	var out []EntityID
	for _, ent := range entries {
		e, ok := entityFromAEVKey(ent.Key, collection, Path{CollectionMarkerAttr})
		if !ok || seen[e] {
			continue
		}
		cur, found, err := tx.CurrentValue(e, Path{CollectionMarkerAttr})
		if err != nil {
			return nil, err
		}
		if found && !cur.Expired && cur.V == collection {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FindByAttribute scans the AEV index for every entity in collection
// that has ever written a value at path, returning their current
// values (spec.md §4.6: "scans entities by attribute index
// (findByAttribute(...))").
func (tx *Tx) FindByAttribute(collection string, path Path) ([]Triple, error) {
	prefix := kv.Tuple(append([]interface{}{indexAEV, collection}, pathToParts(path)...)...)

	entries, err := tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[EntityID]bool)
	var out []Triple
	for _, ent := range entries {
		e, ok := entityFromAEVKey(ent.Key, collection, path)
		if !ok || seen[e] {
			continue
		}
		cur, found, err := tx.CurrentValue(e, path)
		if err != nil {
			return nil, err
		}
		if found {
			seen[e] = true
			out = append(out, cur)
		}
	}
	return out, nil
}

func pathToParts(path Path) []interface{} {
	parts := make([]interface{}, len(path))
	for i, seg := range path {
		parts[i] = seg
	}
	return parts
}

// VerifyIndexHealth walks every entity in collection (found through the
// AEV index's collection-marker entries), reads each one's current
// triples from the EAV index and trace-logs how many attribute paths it
// has (supplemented feature, SPEC_FULL.md). It does not compare the two
// indexes and does not look for (E,A) pairs with more than one current
// triple; it returns only errors from reading the store.
func (tx *Tx) VerifyIndexHealth(collection string) error {
	ids, err := tx.EntityIDsInCollection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		triples, err := tx.ScanEntity(id)
		if err != nil {
			return err
		}
		logger.TraceIf("store", "verified %d attribute paths for entity %s", len(triples), id)
	}
	return nil
}

// ReindexIndexes runs VerifyIndexHealth for collection and writes
// nothing; no index entry is rebuilt. Write stores both index entries
// of a triple in the same kv transaction, so the in-memory store's two
// indexes do not drift apart.
func (tx *Tx) ReindexIndexes(collection string) error {
	return tx.VerifyIndexHealth(collection)
}

// UniqueAttributeValues returns the distinct current values observed at
// path across every entity in collection (supplemented feature,
// modeled on the teacher's GetUniqueTagValues).
func (tx *Tx) UniqueAttributeValues(collection string, path Path) ([]interface{}, error) {
	triples, err := tx.FindByAttribute(collection, path)
	if err != nil {
		return nil, err
	}
	seen := make(map[interface{}]bool)
	var out []interface{}
	for _, t := range triples {
		if t.Expired || t.V == nil || seen[t.V] {
			continue
		}
		seen[t.V] = true
		out = append(out, t.V)
	}
	return out, nil
}

// History returns every retained version (current and superseded) for
// (E,A), newest first, capped at limit (0 = unlimited). Supplemented
// feature (SPEC_FULL.md), modeled on the teacher's GetEntityHistory.
func (tx *Tx) History(e EntityID, a Path, limit int) ([]Triple, error) {
	versions, err := tx.versionsForEntityAttr(e, a)
	if err != nil {
		return nil, err
	}
	// reverse to newest-first
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// AsOf reconstructs the entity's triples as they stood at or before ts:
// for each attribute path, the highest-timestamped triple not newer
// than ts. Supplemented feature (SPEC_FULL.md), modeled on the
// teacher's GetEntityAsOf.
func (tx *Tx) AsOf(e EntityID, ts clock.Timestamp) ([]Triple, error) {
	prefix := kv.Tuple(indexEAV, string(e))
	entries, err := tx.kv.Scan(prefix)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string][]kv.Entry)
	paths := make(map[string]Path)
	var order []string
	for _, ent := range entries {
		path, ok := pathFromEAVKey(ent.Key, string(e))
		if !ok {
			continue
		}
		key := string(kv.Tuple(pathToParts(path)...))
		if _, seen := byPath[key]; !seen {
			order = append(order, key)
			paths[key] = path
		}
		byPath[key] = append(byPath[key], ent)
	}

	var out []Triple
	for _, key := range order {
		path := paths[key]
		versions, err := decodeVersions(byPath[key], e, path)
		if err != nil {
			return nil, err
		}
		var best *Triple
		for i := range versions {
			if !versions[i].T.After(ts) {
				best = &versions[i]
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out, nil
}
