package lynxkv

import (
	"github.com/untoldecay/lynxkv/internal/filter"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
)

// Record, PartialRecord, Filter, Error and IsolationLevel are re-exported
// from their internal packages so callers never need to import
// internal/... directly.
type (
	Record         = kvtypes.Record
	PartialRecord  = kvtypes.PartialRecord
	Filter         = filter.Filter
	Error          = kvtypes.Error
	Kind           = kvtypes.Kind
	IsolationLevel = kvtypes.IsolationLevel
)

// Error kinds.
const (
	KindTableNotFound                 = kvtypes.KindTableNotFound
	KindDuplicatePrimaryKeyDefinition = kvtypes.KindDuplicatePrimaryKeyDefinition
	KindPrimaryKeyValueNull           = kvtypes.KindPrimaryKeyValueNull
	KindDuplicatePrimaryKeyValue      = kvtypes.KindDuplicatePrimaryKeyValue
	KindLockTimeout                   = kvtypes.KindLockTimeout
	KindExternalModification          = kvtypes.KindExternalModification
	KindTransactionCompleted          = kvtypes.KindTransactionCompleted
	KindTransactionConflict           = kvtypes.KindTransactionConflict
	KindInvalidFilter                 = kvtypes.KindInvalidFilter
)

// Isolation levels.
const (
	ReadLatest     = kvtypes.ReadLatest
	RepeatableRead = kvtypes.RepeatableRead
	Serializable   = kvtypes.Serializable
	StrictLocking  = kvtypes.StrictLocking
)

// ParseIsolationLevel accepts any of the four spellings the source
// material uses.
func ParseIsolationLevel(s string) (IsolationLevel, bool) {
	return kvtypes.ParseIsolationLevel(s)
}
