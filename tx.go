package lynxkv

import (
	"context"

	"github.com/untoldecay/lynxkv/internal/txn"
	"github.com/untoldecay/lynxkv/internal/txtable"
)

// Tx is one multi-table transaction. Table handles obtained
// through Get are private to this transaction until Commit.
type Tx struct {
	coord *txn.Coordinator
}

// Get returns this transaction's view of tableName, lazily creating it on
// first access. Fails with TableNotFound for an unregistered table or
// TransactionCompleted if the transaction already ended.
func (tx *Tx) Get(tableName string) (*TxTable, error) {
	p, err := tx.coord.Get(tableName)
	if err != nil {
		return nil, err
	}
	return &TxTable{p: p}, nil
}

// Commit runs prepare across every touched participant, then apply across
// all of them; any failure rolls back the whole transaction first.
func (tx *Tx) Commit(ctx context.Context) error { return tx.coord.Commit(ctx) }

// Rollback discards every participant's buffered changes and releases their
// locks. Idempotent.
func (tx *Tx) Rollback() error { return tx.coord.Rollback() }

// TxTable is a transaction-scoped table handle.
type TxTable struct {
	p *txtable.Table
}

// Size is this transaction's effective view of the table's size: committed
// plus pending inserts, minus pending deletes.
func (t *TxTable) Size() int { return t.p.Size() }

// Insert buffers a new record, private to the transaction until commit.
func (t *TxTable) Insert(rec Record) (Record, error) { return t.p.Insert(rec) }

// FindByPk acquires a read-lock per the transaction's isolation level and
// returns the transaction's effective view of the record, or nil if absent.
func (t *TxTable) FindByPk(ctx context.Context, partial PartialRecord) (Record, error) {
	return t.p.FindByPk(ctx, partial)
}

// Select returns every record, committed or pending, that currently matches
// where, ordered committed-first then pending-inserts in insertion order.
func (t *TxTable) Select(ctx context.Context, fields []string, where Filter) ([]Record, error) {
	return t.p.Select(ctx, fields, where)
}

// Update acquires Exclusive on every matching committed key, re-validates
// under the lock, then buffers the patch. Returns the affected count.
func (t *TxTable) Update(ctx context.Context, fields PartialRecord, where Filter) (int, error) {
	return t.p.Update(ctx, fields, where)
}

// DeleteByPk acquires Exclusive on the built PK and buffers the deletion.
func (t *TxTable) DeleteByPk(ctx context.Context, partial PartialRecord) (Record, error) {
	return t.p.DeleteByPk(ctx, partial)
}
