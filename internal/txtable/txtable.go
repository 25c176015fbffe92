// Package txtable implements the Transaction Table: the 2PC
// participant that reads committed-under-visibility through a Transaction
// Temp Store, writes into that same store, and acquires locks per the
// transaction's isolation level.
package txtable

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/lynxkv/internal/filter"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/lock"
	"github.com/untoldecay/lynxkv/internal/table"
	"github.com/untoldecay/lynxkv/internal/txstore"
)

const readWaitBatch = 500

// Table is one table's view inside a single transaction: CRUD against the
// base table's committed store under lock discipline, buffered through a
// Temp Store, plus the Prepare/Apply/Rollback 2PC hooks.
type Table struct {
	txID        string
	base        *table.Base
	temp        *txstore.Store
	isolation   kvtypes.IsolationLevel
	lockTimeout time.Duration
	done        atomic.Bool
}

// New binds a fresh Temp Store to base for transaction txID.
func New(txID string, base *table.Base, isolation kvtypes.IsolationLevel, lockTimeout time.Duration) *Table {
	return &Table{
		txID:        txID,
		base:        base,
		temp:        txstore.New(base.Store(), base.PK()),
		isolation:   isolation,
		lockTimeout: lockTimeout,
	}
}

// readMode is the lock mode this transaction acquires on every read of a
// committed record.
func (t *Table) readMode() lock.Mode {
	if t.isolation == kvtypes.Serializable {
		return lock.Exclusive
	}
	return lock.Shared
}

func (t *Table) checkActive() error {
	if t.done.Load() {
		return kvtypes.NewTransactionCompleted(t.txID)
	}
	return nil
}

// Insert buffers a new record. Inserts are private to the transaction until
// apply and need no lock.
func (t *Table) Insert(rec kvtypes.Record) (kvtypes.Record, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.temp.Insert(rec)
}

// FindByPk builds the PK, acquires a read-lock per isolation policy, and
// consults the Temp Store's visibility chain. If the record is absent the
// lock just acquired is released immediately.
func (t *Table) FindByPk(ctx context.Context, partial kvtypes.PartialRecord) (kvtypes.Record, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	pkStr, err := t.base.PK().BuildFromRecord(partial)
	if err != nil {
		return nil, err
	}
	if err := t.base.Locks().Acquire(ctx, t.txID, pkStr, t.readMode(), t.lockTimeout); err != nil {
		return nil, err
	}
	data, err := t.temp.FindByPk(pkStr)
	if err != nil {
		return nil, err
	}
	if data == nil {
		t.base.Locks().Release(t.txID, pkStr)
		return nil, nil
	}
	return data, nil
}

// Select compiles the filter and traverses committed keys and tempInserts
// concurrently in bounded batches: for each committed key, wait
// for it to be unlocked if this tx does not already hold it, read the
// pending-or-committed state, and if it matches acquire a read-lock and
// project it. Results are ordered committed-first, then tempInserts in
// insertion order.
func (t *Table) Select(ctx context.Context, fields []string, where filter.Filter) ([]kvtypes.Record, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	compiled, err := filter.Compile(where)
	if err != nil {
		return nil, err
	}

	keys := t.base.Store().Keys()
	committedMatches := make([]kvtypes.Record, 0, len(keys))
	for start := 0; start < len(keys); start += readWaitBatch {
		end := start + readWaitBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		slots := make([]kvtypes.Record, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		for i, key := range chunk {
			i, key := i, key
			g.Go(func() error {
				if _, held := t.base.Locks().HeldMode(t.txID, key); !held {
					if err := t.base.Locks().WaitUnlockToRead(gctx, key, t.lockTimeout); err != nil {
						return err
					}
				}
				data, err := t.temp.FindByPk(key)
				if err != nil {
					return err
				}
				if data == nil || !compiled.Match(data) {
					return nil
				}
				if err := t.base.Locks().Acquire(gctx, t.txID, key, t.readMode(), t.lockTimeout); err != nil {
					return err
				}
				slots[i] = project(data, fields)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, m := range slots {
			if m != nil {
				committedMatches = append(committedMatches, m)
			}
		}
	}

	tempMatches := make([]kvtypes.Record, 0)
	for _, key := range t.temp.TempInsertKeysOrdered() {
		data, ok := t.temp.TempInsertRecord(key)
		if !ok || !compiled.Match(data) {
			continue
		}
		tempMatches = append(tempMatches, project(data, fields))
	}

	return append(committedMatches, tempMatches...), nil
}

// Update compiles the filter and, for each matching committed key, acquires
// Exclusive, re-validates the match still holds under the lock (optimistic
// revalidation), then mutates through the Temp Store. tempInserts are
// processed the same way but without locking. Returns the affected count.
func (t *Table) Update(ctx context.Context, fields kvtypes.PartialRecord, where filter.Filter) (int, error) {
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	compiled, err := filter.Compile(where)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, key := range t.base.Store().Keys() {
		data, err := t.temp.FindByPk(key)
		if err != nil {
			return affected, err
		}
		if data == nil || !compiled.Match(data) {
			continue
		}
		if err := t.base.Locks().Acquire(ctx, t.txID, key, lock.Exclusive, t.lockTimeout); err != nil {
			return affected, err
		}
		revalidated, err := t.temp.FindByPk(key)
		if err != nil {
			t.base.Locks().Release(t.txID, key)
			return affected, err
		}
		if revalidated == nil || !compiled.Match(revalidated) {
			t.base.Locks().Release(t.txID, key)
			continue
		}
		if _, _, err := t.temp.UpdateCommitted(key, fields); err != nil {
			t.base.Locks().Release(t.txID, key)
			return affected, err
		}
		affected++
	}

	for _, key := range t.temp.TempInsertKeysOrdered() {
		data, ok := t.temp.TempInsertRecord(key)
		if !ok || !compiled.Match(data) {
			continue
		}
		if _, _, err := t.temp.UpdateTempInsert(key, fields); err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

// DeleteByPk acquires Exclusive on the built PK and delegates to the Temp
// Store's resolution order. The lock is released immediately if the record
// did not exist.
func (t *Table) DeleteByPk(ctx context.Context, partial kvtypes.PartialRecord) (kvtypes.Record, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	pkStr, err := t.base.PK().BuildFromRecord(partial)
	if err != nil {
		return nil, err
	}
	if err := t.base.Locks().Acquire(ctx, t.txID, pkStr, lock.Exclusive, t.lockTimeout); err != nil {
		return nil, err
	}
	data, err := t.temp.DeleteByPk(pkStr)
	if err != nil {
		t.base.Locks().Release(t.txID, pkStr)
		return nil, err
	}
	if data == nil {
		t.base.Locks().Release(t.txID, pkStr)
		return nil, nil
	}
	return data, nil
}

// Size is the transaction's effective view of the table's size: |committed| + |tempInserts| - committedDeleteCount.
func (t *Table) Size() int { return t.temp.EffectiveSize() }

// Prepare acquires Exclusive on every committed PK this transaction touched
// and validates the buffer. On failure it rolls back and returns
// TransactionConflict.
func (t *Table) Prepare(ctx context.Context) error {
	if t.done.Load() {
		return kvtypes.NewTransactionCompleted(t.txID)
	}
	for _, pkStr := range t.temp.OriginalPks() {
		if err := t.base.Locks().Acquire(ctx, t.txID, pkStr, lock.Exclusive, t.lockTimeout); err != nil {
			_ = t.Rollback()
			return kvtypes.NewTransactionConflict(t.txID, err)
		}
	}
	if err := t.temp.Validate(); err != nil {
		_ = t.Rollback()
		return kvtypes.NewTransactionConflict(t.txID, err)
	}
	return nil
}

// Apply commits the Temp Store's buffer into the committed store, then
// releases every lock this transaction holds and clears its buffers.
// Callers that see an error are expected to roll back the whole
// coordinator; this table's locks are released by that subsequent
// Rollback call.
func (t *Table) Apply() error {
	if t.done.Load() {
		return kvtypes.NewTransactionCompleted(t.txID)
	}
	if err := t.temp.Apply(); err != nil {
		return err
	}
	t.base.Locks().ReleaseAll(t.txID)
	t.temp = txstore.New(t.base.Store(), t.base.PK())
	t.done.Store(true)
	return nil
}

// Rollback releases every lock this transaction holds and marks the table
// inactive. Idempotent: a second call is a no-op.
func (t *Table) Rollback() error {
	t.base.Locks().ReleaseAll(t.txID)
	t.done.Store(true)
	return nil
}

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
