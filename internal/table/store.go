// Package table implements the versioned record store and the
// non-transactional Base Table: committed CRUD directly against
// the committed map, using the lock manager only to wait on locked keys.
package table

import (
	"sync"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
)

// Store is the committed PK->Versioned record mapping of a table.
// It is owned by a Base table and shared by reference with every
// Transaction Table bound to it; mutation happens only through Base table
// operations outside a transaction and through a Transaction Table's apply.
type Store struct {
	mu      sync.RWMutex
	records map[string]kvtypes.Versioned
}

// NewStore returns an empty committed store.
func NewStore() *Store {
	return &Store{records: make(map[string]kvtypes.Versioned)}
}

// Len returns the number of committed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a defensive copy of the committed record at pk, if present.
func (s *Store) Get(pk string) (kvtypes.Versioned, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[pk]
	if !ok {
		return kvtypes.Versioned{}, false
	}
	return v.Clone(), true
}

// Has reports whether pk exists in the committed store.
func (s *Store) Has(pk string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[pk]
	return ok
}

// Keys returns a snapshot of every committed PK. Iteration order over the
// result is not meaningful.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	return out
}

// Insert adds a brand-new committed record at version 1. Fails with
// DuplicatePrimaryKeyValue if pk is already present.
func (s *Store) Insert(pk string, data kvtypes.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[pk]; exists {
		return kvtypes.NewDuplicatePrimaryKeyValue(pk)
	}
	s.records[pk] = kvtypes.Versioned{Data: data.Clone(), Version: 1}
	return nil
}

// Delete removes the committed record at pk, returning its data.
func (s *Store) Delete(pk string) (kvtypes.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[pk]
	if !ok {
		return nil, false
	}
	delete(s.records, pk)
	return v.Data, true
}

// Rehome moves a committed record from oldPk to newPk, replacing its data
// and bumping its version. Used by non-transactional Update when a match
// touches the PK. Fails with DuplicatePrimaryKeyValue if newPk != oldPk and
// is already occupied.
func (s *Store) Rehome(oldPk, newPk string, data kvtypes.Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[oldPk]
	if !ok {
		return 0, kvtypes.NewExternalModification(oldPk)
	}
	if newPk != oldPk {
		if _, exists := s.records[newPk]; exists {
			return 0, kvtypes.NewDuplicatePrimaryKeyValue(newPk)
		}
		delete(s.records, oldPk)
	}
	next := cur.Version + 1
	s.records[newPk] = kvtypes.Versioned{Data: data.Clone(), Version: next}
	return next, nil
}

// PutVersioned installs data at pk with an explicit version, overwriting
// any existing occupant unconditionally. Used by a transaction's Apply,
// which vacates every slot it depends on and validates versions itself
// before calling this.
func (s *Store) PutVersioned(pk string, data kvtypes.Record, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pk] = kvtypes.Versioned{Data: data.Clone(), Version: version}
}

// ApplyUpdate merges patch fields into the committed record at pk, checking
// expectedVersion first (ExternalModification on mismatch), and rehomes to
// newPk if it differs from pk. Used by the transaction temp store's apply
// phase, where the caller already holds Exclusive on both pk and newPk.
func (s *Store) ApplyUpdate(pk, newPk string, merged kvtypes.Record, expectedVersion uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[pk]
	if !ok || cur.Version != expectedVersion {
		return 0, kvtypes.NewExternalModification(pk)
	}
	next := cur.Version + 1
	if newPk != pk {
		if _, exists := s.records[newPk]; exists {
			return 0, kvtypes.NewDuplicatePrimaryKeyValue(newPk)
		}
		delete(s.records, pk)
	}
	s.records[newPk] = kvtypes.Versioned{Data: merged.Clone(), Version: next}
	return next, nil
}

// Reset clears every committed record. Outstanding Transaction Tables keep
// their own buffers and may still attempt to commit; they will fail prepare
// with ExternalModification once their snapshotted versions no longer exist.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]kvtypes.Versioned)
}
