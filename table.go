package lynxkv

import (
	"context"

	"github.com/untoldecay/lynxkv/internal/table"
)

// Table is the non-transactional handle over one table's committed store.
type Table struct {
	base *table.Base
}

// Size returns the number of committed records.
func (t *Table) Size() int { return t.base.Size() }

// Insert stores a new record, generating an opaque _id when the table uses
// the default key and none was supplied. Fails with DuplicatePrimaryKeyValue
// on a PK collision.
func (t *Table) Insert(rec Record) (Record, error) { return t.base.Insert(rec) }

// BulkInsert inserts every record as a single all-or-nothing batch.
func (t *Table) BulkInsert(records []Record) ([]Record, error) { return t.base.BulkInsert(records) }

// FindByPk waits for the key to be unlocked for read and returns a
// defensive copy, or nil if absent.
func (t *Table) FindByPk(ctx context.Context, partial PartialRecord) (Record, error) {
	return t.base.FindByPk(ctx, partial)
}

// Select compiles where once and returns every committed record that
// matches it, projected to fields (all fields when fields is empty).
func (t *Table) Select(ctx context.Context, fields []string, where Filter) ([]Record, error) {
	return t.base.Select(ctx, fields, where)
}

// Update compiles where, applies fields to every match, rehoming the PK
// when the patch touches it, and returns the affected count.
func (t *Table) Update(fields PartialRecord, where Filter) (int, error) {
	return t.base.Update(fields, where)
}

// DeleteByPk waits until no transaction holds the key Exclusive, removes it,
// and returns the removed record, or nil if it was not present. A Shared
// lock held by a transaction does not make it wait.
func (t *Table) DeleteByPk(ctx context.Context, partial PartialRecord) (Record, error) {
	return t.base.DeleteByPk(ctx, partial)
}
