package kvtypes

import "fmt"

// Kind identifies one of the error categories produced by the engine.
// Callers switch on Kind directly or use errors.Is with an *Error of the
// wanted Kind.
type Kind int

const (
	_ Kind = iota
	KindTableNotFound
	KindDuplicatePrimaryKeyDefinition
	KindPrimaryKeyValueNull
	KindDuplicatePrimaryKeyValue
	KindLockTimeout
	KindExternalModification
	KindTransactionCompleted
	KindTransactionConflict
	KindInvalidFilter
)

func (k Kind) String() string {
	switch k {
	case KindTableNotFound:
		return "TableNotFound"
	case KindDuplicatePrimaryKeyDefinition:
		return "DuplicatePrimaryKeyDefinition"
	case KindPrimaryKeyValueNull:
		return "PrimaryKeyValueNull"
	case KindDuplicatePrimaryKeyValue:
		return "DuplicatePrimaryKeyValue"
	case KindLockTimeout:
		return "LockTimeout"
	case KindExternalModification:
		return "ExternalModification"
	case KindTransactionCompleted:
		return "TransactionCompleted"
	case KindTransactionConflict:
		return "TransactionConflict"
	case KindInvalidFilter:
		return "InvalidFilter"
	default:
		return "Unknown"
	}
}

// Error is the single error type the engine produces. Every failure surfaced
// to a caller is one of these, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &kvtypes.Error{Kind: KindLockTimeout}) style checks by
// comparing Kind when the target is also an *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func newErrCause(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewTableNotFound reports that a table name is not registered with the database.
func NewTableNotFound(table string) *Error {
	return newErr(KindTableNotFound, "table %q not found", table)
}

// NewDuplicatePrimaryKeyDefinition reports a repeated field in a PK definition.
func NewDuplicatePrimaryKeyDefinition(field string) *Error {
	return newErr(KindDuplicatePrimaryKeyDefinition, "field %q appears more than once in primary key definition", field)
}

// NewPrimaryKeyValueNull reports a missing/null PK component.
func NewPrimaryKeyValueNull(field string) *Error {
	return newErr(KindPrimaryKeyValueNull, "primary key field %q is null or missing", field)
}

// NewDuplicatePrimaryKeyValue reports a PK collision on insert or update.
func NewDuplicatePrimaryKeyValue(pk string) *Error {
	return newErr(KindDuplicatePrimaryKeyValue, "primary key %q already exists", pk)
}

// NewLockTimeout reports a lock acquisition or read-wait that exceeded its deadline.
func NewLockTimeout(key string) *Error {
	return newErr(KindLockTimeout, "timed out waiting for a lock on %q", key)
}

// NewExternalModification reports that a committed record's version moved
// since a transaction first observed it.
func NewExternalModification(pk string) *Error {
	return newErr(KindExternalModification, "record %q was modified outside the transaction", pk)
}

// NewTransactionCompleted reports an operation attempted on an inactive transaction.
func NewTransactionCompleted(txID string) *Error {
	return newErr(KindTransactionCompleted, "transaction %q has already committed or rolled back", txID)
}

// NewTransactionConflict wraps a cause (typically DuplicatePrimaryKeyValue or
// ExternalModification) surfaced from a failed prepare/apply.
func NewTransactionConflict(txID string, cause error) *Error {
	return newErrCause(KindTransactionConflict, cause, "transaction %q could not commit", txID)
}

// NewInvalidFilter reports a malformed filter tree at compile time.
func NewInvalidFilter(format string, args ...any) *Error {
	return newErr(KindInvalidFilter, format, args...)
}
