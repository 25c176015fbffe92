package table

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/lynxkv/internal/filter"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/lock"
	"github.com/untoldecay/lynxkv/internal/pk"
)

// readWaitBatch bounds how many concurrent read-waits a Select issues at
// once.
const readWaitBatch = 500

// Base is the non-transactional surface over a committed Store.
// It never acquires locks on its own behalf; it only waits on the lock
// manager for keys a concurrent transaction is holding Exclusive.
type Base struct {
	Name        string
	store       *Store
	pkMgr       *pk.Manager
	locks       *lock.Manager
	lockTimeout time.Duration
}

// NewBase constructs a Base table bound to a fresh, empty committed store.
func NewBase(name string, pkMgr *pk.Manager, locks *lock.Manager, lockTimeout time.Duration) *Base {
	return &Base{Name: name, store: NewStore(), pkMgr: pkMgr, locks: locks, lockTimeout: lockTimeout}
}

// Store exposes the committed store so a Transaction Table bound to the same
// base table can read/apply against it directly.
func (b *Base) Store() *Store { return b.store }

// PK exposes the table's primary-key manager.
func (b *Base) PK() *pk.Manager { return b.pkMgr }

// Locks exposes the lock manager shared across this table's Base and
// Transaction Table instances.
func (b *Base) Locks() *lock.Manager { return b.locks }

// LockTimeout is the default timeout used by every wait-for-unlock issued by
// this table's operations.
func (b *Base) LockTimeout() time.Duration { return b.lockTimeout }

// Size returns the number of committed records.
func (b *Base) Size() int { return b.store.Len() }

// Insert builds the record's PK (generating a fresh _id when the table uses
// the default key and none was supplied), rejects a duplicate, and stores a
// new version-1 record. Returns a defensive copy of the stored data.
func (b *Base) Insert(rec kvtypes.Record) (kvtypes.Record, error) {
	rec = rec.Clone()
	b.pkMgr.EnsureID(rec)
	pkStr, err := b.pkMgr.BuildFromRecord(kvtypes.PartialRecord(rec))
	if err != nil {
		return nil, err
	}
	if err := b.store.Insert(pkStr, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// BulkInsert inserts every record as a single all-or-nothing batch: PKs are
// built and checked for collisions (against each other and against the
// committed store) before anything is written.
func (b *Base) BulkInsert(records []kvtypes.Record) ([]kvtypes.Record, error) {
	prepared := make([]kvtypes.Record, len(records))
	pks := make([]string, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		rec = rec.Clone()
		b.pkMgr.EnsureID(rec)
		pkStr, err := b.pkMgr.BuildFromRecord(kvtypes.PartialRecord(rec))
		if err != nil {
			return nil, err
		}
		if seen[pkStr] || b.store.Has(pkStr) {
			return nil, kvtypes.NewDuplicatePrimaryKeyValue(pkStr)
		}
		seen[pkStr] = true
		pks[i] = pkStr
		prepared[i] = rec
	}
	for i, rec := range prepared {
		if err := b.store.Insert(pks[i], rec); err != nil {
			return nil, err
		}
	}
	out := make([]kvtypes.Record, len(prepared))
	for i, rec := range prepared {
		out[i] = rec.Clone()
	}
	return out, nil
}

// FindByPk waits (bounded by the table's lockTimeout) for the key to be
// unlocked for read, then returns a defensive copy, or nil if absent.
func (b *Base) FindByPk(ctx context.Context, partial kvtypes.PartialRecord) (kvtypes.Record, error) {
	pkStr, err := b.pkMgr.BuildFromRecord(partial)
	if err != nil {
		return nil, err
	}
	if err := b.locks.WaitUnlockToRead(ctx, pkStr, b.lockTimeout); err != nil {
		return nil, err
	}
	v, ok := b.store.Get(pkStr)
	if !ok {
		return nil, nil
	}
	return v.Data, nil
}

// Select compiles the filter, iterates committed entries in bounded
// concurrent batches, and returns projections: every field when fields is
// empty, else only the listed fields.
func (b *Base) Select(ctx context.Context, fields []string, where filter.Filter) ([]kvtypes.Record, error) {
	compiled, err := filter.Compile(where)
	if err != nil {
		return nil, err
	}
	keys := b.store.Keys()
	out := make([]kvtypes.Record, 0, len(keys))

	for start := 0; start < len(keys); start += readWaitBatch {
		end := start + readWaitBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		matches := make([]kvtypes.Record, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		for i, key := range chunk {
			i, key := i, key
			g.Go(func() error {
				if err := b.locks.WaitUnlockToRead(gctx, key, b.lockTimeout); err != nil {
					return err
				}
				v, ok := b.store.Get(key)
				if !ok || !compiled.Match(v.Data) {
					return nil
				}
				matches[i] = project(v.Data, fields)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m != nil {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Update compiles the filter and mutates every matching committed record:
// if the patch touches the PK it recomputes old/new PK, rejects collisions,
// and rehomes the entry; every match's version is incremented. Returns the
// affected count.
func (b *Base) Update(fields kvtypes.PartialRecord, where filter.Filter) (int, error) {
	compiled, err := filter.Compile(where)
	if err != nil {
		return 0, err
	}
	affected := 0
	for _, key := range b.store.Keys() {
		v, ok := b.store.Get(key)
		if !ok || !compiled.Match(v.Data) {
			continue
		}
		merged := v.Data.Merge(fields)
		newPk := key
		if b.pkMgr.IsPartialRecordPartOfPk(fields) {
			newPk, err = b.pkMgr.BuildFromRecord(kvtypes.PartialRecord(merged))
			if err != nil {
				return affected, err
			}
		}
		if _, err := b.store.Rehome(key, newPk, merged); err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

// DeleteByPk waits until no transaction holds the key Exclusive, removes it,
// and returns the removed data, or nil if it was not present. A Shared lock
// held by a transaction does not make it wait.
func (b *Base) DeleteByPk(ctx context.Context, partial kvtypes.PartialRecord) (kvtypes.Record, error) {
	pkStr, err := b.pkMgr.BuildFromRecord(partial)
	if err != nil {
		return nil, err
	}
	if err := b.locks.WaitUnlockToRead(ctx, pkStr, b.lockTimeout); err != nil {
		return nil, err
	}
	data, ok := b.store.Delete(pkStr)
	if !ok {
		return nil, nil
	}
	return data, nil
}

// Reset clears the committed store.
func (b *Base) Reset() { b.store.Reset() }

func project(data kvtypes.Record, fields []string) kvtypes.Record {
	if len(fields) == 0 {
		return data.Clone()
	}
	out := make(kvtypes.Record, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}
