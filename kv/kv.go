// Package kv defines the minimal ordered key/value contract triplit's
// triple store is built on (spec.md §2 C1, §5 "Transactions"/"Isolation").
//
// A Store is a range-scannable sorted map of tuple-keys to byte values,
// transactional, with snapshot reads inside a transaction and optimistic
// conflict detection at commit. This package does not specify an
// on-disk format (spec.md §1 Non-goals: "on-disk durability formats"); it
// is the pluggable contract a durable backend would implement.
package kv

import (
	"bytes"

	"github.com/itoxiq/triplit/errkit"
)

// Key is an opaque, lexicographically-ordered byte string. Use Tuple to
// build Keys out of typed segments so prefix scans compose correctly.
type Key []byte

// Value is an opaque byte string.
type Value []byte

// Compare orders two Keys lexicographically.
func (k Key) Compare(o Key) int { return bytes.Compare(k, o) }

// HasPrefix reports whether k starts with prefix.
func (k Key) HasPrefix(prefix Key) bool { return bytes.HasPrefix(k, prefix) }

// Entry is a single key/value pair returned from a Scan.
type Entry struct {
	Key   Key
	Value Value
}

// Txn is a transaction handle passed to the function given to
// Store.Transact. Reads observe a consistent snapshot taken when the
// transaction began, plus this transaction's own uncommitted writes.
type Txn interface {
	// Get returns the value for key, and found=false if it doesn't exist.
	Get(key Key) (Value, bool, error)

	// Set stages key=value for this transaction.
	Set(key Key, value Value) error

	// Delete stages removal of key for this transaction.
	Delete(key Key) error

	// Scan returns, in ascending key order, every entry whose key has
	// the given prefix, as of this transaction's view (snapshot plus
	// this transaction's own staged writes).
	Scan(prefix Key) ([]Entry, error)
}

// Store is the ordered key/value contract. Implementations must
// serialize concurrent transactions that touch overlapping keys; a
// losing transaction's Transact call returns an *errkit.Error of Kind
// errkit.TransactionConflict.
type Store interface {
	// Transact runs fn inside a new transaction. If fn returns nil, the
	// transaction's writes are committed; if fn returns an error (or
	// panics), the transaction is cancelled and has no effect.
	//
	// A commit can also fail with a TransactionConflict if another
	// transaction committed an overlapping write first; callers may
	// retry in that case.
	Transact(fn func(Txn) error) error
}

// ErrConflict is returned (wrapped in an *errkit.Error) when a
// transaction's commit finds that another transaction has committed a
// write to a key this transaction depends on (for MemStore: a key it
// read with Get).
var ErrConflict = errkit.New(errkit.TransactionConflict, "transaction conflict: concurrent write to an overlapping key")
