package kv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
)

// entry is the btree element: a key/value pair plus the store-global
// version at which it was last written, used for optimistic
// conflict detection at commit time.
type entry struct {
	key     Key
	value   Value
	version uint64
	deleted bool
}

func lessEntry(a, b entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// MemStore is an in-memory Store backed by a google/btree.BTreeG,
// grounded on the teacher's hand-written TemporalBTree but generic and
// degree-tunable. Safe for concurrent use; transactions are optimistic:
// a commit that writes re-validates every key the transaction read with
// Get and fails with ErrConflict if any of them changed since the
// transaction began. Entries read through Scan are not tracked, so a
// transaction that reads only through Scan never fails with ErrConflict.
type MemStore struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[entry]
	version uint64
}

// NewMemStore creates an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{tree: btree.NewG(32, lessEntry)}
}

func (s *MemStore) Transact(fn func(Txn) error) error {
	s.mu.Lock()
	snapshot := s.tree.Clone()
	s.mu.Unlock()

	tx := &memTxn{
		snapshot: snapshot,
		reads:    make(map[string]uint64),
		writes:   make(map[string]*entry),
	}

	if err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				tx.failed = true
				panic(r)
			}
		}()
		return fn(tx)
	}(); err != nil {
		return err
	}

	if len(tx.writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ks, readVersion := range tx.reads {
		cur, ok := s.tree.Get(entry{key: Key(ks)})
		curVersion := uint64(0)
		if ok {
			curVersion = cur.version
		}
		if curVersion != readVersion {
			return ErrConflict
		}
	}

	s.version++
	for ks, w := range tx.writes {
		w.version = s.version
		if w.deleted {
			s.tree.Delete(entry{key: Key(ks)})
		} else {
			s.tree.ReplaceOrInsert(*w)
		}
	}
	return nil
}

type memTxn struct {
	snapshot *btree.BTreeG[entry]
	reads    map[string]uint64
	writes   map[string]*entry
	failed   bool
}

func (t *memTxn) lookup(key Key) (entry, bool) {
	if w, ok := t.writes[string(key)]; ok {
		if w.deleted {
			return entry{}, false
		}
		return *w, true
	}
	e, ok := t.snapshot.Get(entry{key: key})
	return e, ok
}

func (t *memTxn) Get(key Key) (Value, bool, error) {
	e, ok := t.lookup(key)
	if _, seen := t.reads[string(key)]; !seen {
		if se, inSnap := t.snapshot.Get(entry{key: key}); inSnap {
			t.reads[string(key)] = se.version
		} else {
			t.reads[string(key)] = 0
		}
	}
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (t *memTxn) Set(key Key, value Value) error {
	t.writes[string(key)] = &entry{key: append(Key{}, key...), value: append(Value{}, value...)}
	return nil
}

func (t *memTxn) Delete(key Key) error {
	t.writes[string(key)] = &entry{key: append(Key{}, key...), deleted: true}
	return nil
}

func (t *memTxn) Scan(prefix Key) ([]Entry, error) {
	seen := make(map[string]bool)
	var out []Entry

	t.snapshot.AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !e.key.HasPrefix(prefix) {
			return false
		}
		seen[string(e.key)] = true
		if w, ok := t.writes[string(e.key)]; ok {
			if !w.deleted {
				out = append(out, Entry{Key: w.key, Value: w.value})
			}
		} else {
			out = append(out, Entry{Key: e.key, Value: e.value})
		}
		return true
	})

	for ks, w := range t.writes {
		if seen[ks] || w.deleted {
			continue
		}
		if !Key(ks).HasPrefix(prefix) {
			continue
		}
		out = append(out, Entry{Key: w.key, Value: w.value})
	}

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}
