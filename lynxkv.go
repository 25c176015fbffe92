// Package lynxkv is the public façade of an in-memory, multi-table
// transactional key-value store: typed records, composite primary keys,
// predicate-based queries, and multi-table transactions coordinated by
// two-phase commit.
//
// A Database owns a fixed set of named tables, each with its own committed
// store and lock manager. Outside a transaction, a Table handle gives
// directly-visible CRUD. Inside a transaction, a Tx hands out per-table
// handles that buffer writes until Commit and roll back cleanly on error.
package lynxkv

import (
	"context"
	"sync"
	"time"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/lock"
	"github.com/untoldecay/lynxkv/internal/pk"
	"github.com/untoldecay/lynxkv/internal/table"
	"github.com/untoldecay/lynxkv/internal/txn"
)

// DefaultLockTimeout is the lock acquisition / read-wait timeout used when
// Options does not specify one.
const DefaultLockTimeout = 5000 * time.Millisecond

// TableDefinition declares one table's primary key. An empty PrimaryKey
// means the table uses the implicit opaque _id key.
type TableDefinition struct {
	PrimaryKey []string
}

// Options configures a Database or an individual transaction. The
// zero value is valid: IsolationLevel defaults to ReadLatest and a
// non-positive LockTimeout is replaced with DefaultLockTimeout.
type Options struct {
	IsolationLevel IsolationLevel
	LockTimeout    time.Duration
}

func (o Options) normalized() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	return o
}

func firstOptions(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}.normalized()
	}
	return opts[0].normalized()
}

// Database is the table registry. Every table keeps its own
// committed store and its own lock manager, so PK collisions across tables
// never interfere with each other's locking.
type Database struct {
	mu      sync.RWMutex
	options Options
	tables  map[string]*table.Base
}

// NewDatabase validates every table definition and constructs an empty
// committed store per table. opts accepts zero or one Options value.
func NewDatabase(tables map[string]TableDefinition, opts ...Options) (*Database, error) {
	options := firstOptions(opts)
	db := &Database{options: options, tables: make(map[string]*table.Base, len(tables))}
	for name, def := range tables {
		pkMgr, err := pk.New(def.PrimaryKey)
		if err != nil {
			return nil, err
		}
		db.tables[name] = table.NewBase(name, pkMgr, lock.NewManager(), options.LockTimeout)
	}
	return db, nil
}

// Get returns the non-transactional handle for a table, or TableNotFound.
func (db *Database) Get(name string) (*Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	base, ok := db.tables[name]
	if !ok {
		return nil, kvtypes.NewTableNotFound(name)
	}
	return &Table{base: base}, nil
}

func (db *Database) registrySnapshot() map[string]*table.Base {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]*table.Base, len(db.tables))
	for name, base := range db.tables {
		out[name] = base
	}
	return out
}

// CreateTransaction starts a new multi-table transaction bound to this
// database's tables. opts overrides the database's own
// IsolationLevel/LockTimeout defaults for this transaction only.
func (db *Database) CreateTransaction(opts ...Options) *Tx {
	options := db.options
	if len(opts) > 0 {
		options = opts[0].normalized()
	}
	id := pk.GenerateID()
	return &Tx{coord: txn.New(id, db.registrySnapshot(), options.IsolationLevel, options.LockTimeout)}
}

// Transaction runs fn against a fresh transaction: commits on a nil return,
// rolls back and rethrows on a non-nil error or a panic.
func (db *Database) Transaction(ctx context.Context, fn func(tx *Tx) error, opts ...Options) (err error) {
	tx := db.CreateTransaction(opts...)
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}

// Reset clears every table's committed store. Transactions
// already in flight survive; one that has a pending update or delete of a
// committed record fails at Commit with TransactionConflict wrapping
// ExternalModification, because the record it snapshotted is gone.
func (db *Database) Reset() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, base := range db.tables {
		base.Reset()
	}
}
