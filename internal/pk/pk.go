// Package pk implements the primary-key machinery for single and composite
// keys: PK definition validation, PK-string construction from a
// (partial) record, and old/new PK computation on update.
package pk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/untoldecay/lynxkv/internal/kvtypes"
)

// DefaultIDField is the implicit PK field used when a table declares an
// empty primary key.
const DefaultIDField = "_id"

// separator joins composite PK components. Because component values are not
// otherwise guaranteed distinguishable once stringified, each component is
// escaped before joining.
const separator = "-"

// Manager validates a table's primary-key definition and builds PK strings
// from records.
type Manager struct {
	fields []string // empty means "default _id key"
}

// New validates the ordered PK field list and returns a Manager. Duplicate
// field names fail with DuplicatePrimaryKeyDefinition.
func New(fields []string) (*Manager, error) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			return nil, kvtypes.NewDuplicatePrimaryKeyDefinition(f)
		}
		seen[f] = true
	}
	cp := make([]string, len(fields))
	copy(cp, fields)
	return &Manager{fields: cp}, nil
}

// Fields returns the PK field list the manager was constructed with (empty
// for the default-_id case).
func (m *Manager) Fields() []string {
	cp := make([]string, len(m.fields))
	copy(cp, m.fields)
	return cp
}

// IsDefault reports whether this table uses the implicit _id key.
func (m *Manager) IsDefault() bool { return len(m.fields) == 0 }

// GenerateID returns a fresh opaque identifier for the default-_id case. It
// carries no cryptographic property; it exists only to avoid intra-process
// collisions, and is backed by a well-known UUID generator rather
// than a hand-rolled time+random scheme.
func GenerateID() string {
	return uuid.NewString()
}

// EnsureID sets a freshly generated _id on rec when this table uses the
// default PK and the caller did not supply one.
func (m *Manager) EnsureID(rec kvtypes.Record) {
	if !m.IsDefault() {
		return
	}
	if _, ok := rec[DefaultIDField]; ok {
		return
	}
	rec[DefaultIDField] = GenerateID()
}

// BuildFromRecord builds the PK string from a (partial) record. For the
// default PK it reads _id (generating one on the caller's behalf is NOT
// done here: insert paths call EnsureID first, which generates one when _id
// is absent).
// For a single-field PK it stringifies that field. For a composite PK it
// escapes and joins each component in definition order. A missing/nil
// component fails with PrimaryKeyValueNull.
func (m *Manager) BuildFromRecord(rec kvtypes.PartialRecord) (string, error) {
	if m.IsDefault() {
		v, ok := rec[DefaultIDField]
		if !ok || isNullish(v) {
			return "", kvtypes.NewPrimaryKeyValueNull(DefaultIDField)
		}
		return stringify(v), nil
	}
	if len(m.fields) == 1 {
		f := m.fields[0]
		v, ok := rec[f]
		if !ok || isNullish(v) {
			return "", kvtypes.NewPrimaryKeyValueNull(f)
		}
		return stringify(v), nil
	}
	parts := make([]string, len(m.fields))
	for i, f := range m.fields {
		v, ok := rec[f]
		if !ok || isNullish(v) {
			return "", kvtypes.NewPrimaryKeyValueNull(f)
		}
		parts[i] = escape(stringify(v))
	}
	return strings.Join(parts, separator), nil
}

// IsPartialRecordPartOfPk reports whether the partial record carries at
// least one PK field.
func (m *Manager) IsPartialRecordPartOfPk(rec kvtypes.PartialRecord) bool {
	if m.IsDefault() {
		return rec.Has(DefaultIDField)
	}
	for _, f := range m.fields {
		if rec.Has(f) {
			return true
		}
	}
	return false
}

// GenerateOldAndNewPk computes the PK a committed record had (current) and
// the PK its pending state implies once updatedFields is merged in.
func (m *Manager) GenerateOldAndNewPk(current kvtypes.Record, updatedFields kvtypes.PartialRecord) (oldPk, newPk string, err error) {
	oldPk, err = m.BuildFromRecord(kvtypes.PartialRecord(current))
	if err != nil {
		return "", "", err
	}
	merged := current.Merge(updatedFields)
	newPk, err = m.BuildFromRecord(kvtypes.PartialRecord(merged))
	if err != nil {
		return "", "", err
	}
	return oldPk, newPk, nil
}

// CreateDuplicatePrimaryKeyValue is a factory for the corresponding error.
func (m *Manager) CreateDuplicatePrimaryKeyValue(pkValue string) *kvtypes.Error {
	return kvtypes.NewDuplicatePrimaryKeyValue(pkValue)
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// escape percent-escapes the structural separator and its own escape
// character so that two distinct composite tuples can never collide once
// joined.
func escape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, separator, "%2D")
	return s
}
