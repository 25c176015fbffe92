// Package txstore implements the Transaction Temp Store: the
// per-(transaction, table) buffer of inserts, updates, and deletes that lets
// a transaction read its own pending writes without ever mutating the
// committed store until apply.
package txstore

import (
	"sync"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/pk"
	"github.com/untoldecay/lynxkv/internal/table"
)

// Action is what a TemporalChange represents for a committed record.
type Action int

const (
	Updated Action = iota
	Deleted
)

// TemporalChange is a pending update or delete of a committed record.
// Changes.Version is the committed version observed when the transaction
// first touched the record (invariant 2); Changes.Data is the pending
// merged data. NewPk is only meaningful when HasOriginalPk is
// false: it is the key this same change is also indexed under in
// updatedPrimaryKeyMap, kept so a later touch can re-key or delete it.
type TemporalChange struct {
	Action        Action
	Changes       kvtypes.Versioned
	HasOriginalPk bool
	NewPk         string
}

// Store holds one transaction's pending buffers for one table.
type Store struct {
	mu        sync.Mutex
	committed *table.Store
	pkMgr     *pk.Manager

	tempInserts           map[string]kvtypes.Record
	tempInsertOrder       []string // insertion order, for Select's tempInsert-order tail
	originalPrimaryKeyMap map[string]*TemporalChange
	updatedPrimaryKeyMap  map[string]*TemporalChange
	committedDeleteCount  int
}

// New returns an empty temp store bound to a table's committed store and PK
// manager.
func New(committed *table.Store, pkMgr *pk.Manager) *Store {
	return &Store{
		committed:             committed,
		pkMgr:                 pkMgr,
		tempInserts:           make(map[string]kvtypes.Record),
		originalPrimaryKeyMap: make(map[string]*TemporalChange),
		updatedPrimaryKeyMap:  make(map[string]*TemporalChange),
	}
}

// EffectiveSize is |committed| + |tempInserts| - committedDeleteCount.
func (s *Store) EffectiveSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.Len() + len(s.tempInserts) - s.committedDeleteCount
}

// shadowed reports whether a committed PK has been scheduled for delete or
// abandoned by a PK-changing update in this transaction's view. In either
// case the committed slot at pkStr is free for a fresh insert to reuse.
// Caller must hold s.mu.
func (s *Store) shadowed(pkStr string) bool {
	tc, ok := s.originalPrimaryKeyMap[pkStr]
	if !ok {
		return false
	}
	return tc.Action == Deleted || (tc.Action == Updated && !tc.HasOriginalPk)
}

// isPrimaryKeyInUse reports whether pk is already claimed by a pending
// insert or rehome, optionally ignoring hits that resolve back to ignoreTc
// (used when re-touching a record that already owns the PK being checked).
// Caller must hold s.mu.
func (s *Store) isPrimaryKeyInUse(pkStr string, ignoreTc *TemporalChange) bool {
	if _, ok := s.tempInserts[pkStr]; ok {
		return true
	}
	if tc, ok := s.updatedPrimaryKeyMap[pkStr]; ok && tc != ignoreTc {
		return true
	}
	if tc, ok := s.originalPrimaryKeyMap[pkStr]; ok && tc != ignoreTc && tc.Action == Updated && tc.HasOriginalPk {
		return true
	}
	if s.committed.Has(pkStr) && !s.shadowed(pkStr) {
		return true
	}
	return false
}

// Insert buffers a brand-new record. Fails with DuplicatePrimaryKeyValue if
// the PK is already in use anywhere in this transaction's view.
func (s *Store) Insert(rec kvtypes.Record) (kvtypes.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec = rec.Clone()
	s.pkMgr.EnsureID(rec)
	pkStr, err := s.pkMgr.BuildFromRecord(kvtypes.PartialRecord(rec))
	if err != nil {
		return nil, err
	}
	if s.isPrimaryKeyInUse(pkStr, nil) {
		return nil, kvtypes.NewDuplicatePrimaryKeyValue(pkStr)
	}
	s.tempInserts[pkStr] = rec
	s.tempInsertOrder = append(s.tempInsertOrder, pkStr)
	return rec.Clone(), nil
}

// FindByPk resolves pkStr through the visibility chain: tempInserts ->
// updatedPrimaryKeyMap -> originalPrimaryKeyMap -> committed.
// Go has no null/undefined distinction; both "explicitly deleted" and "not
// present anywhere" return (nil, nil).
func (s *Store) FindByPk(pkStr string) (kvtypes.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByPkLocked(pkStr)
}

func (s *Store) findByPkLocked(pkStr string) (kvtypes.Record, error) {
	if rec, ok := s.tempInserts[pkStr]; ok {
		return rec.Clone(), nil
	}
	if tc, ok := s.updatedPrimaryKeyMap[pkStr]; ok {
		return tc.Changes.Data.Clone(), nil
	}
	if tc, ok := s.originalPrimaryKeyMap[pkStr]; ok {
		if tc.Action == Deleted {
			return nil, nil
		}
		if tc.HasOriginalPk {
			return tc.Changes.Data.Clone(), nil
		}
		return nil, nil
	}
	if v, ok := s.committed.Get(pkStr); ok {
		return v.Data.Clone(), nil
	}
	return nil, nil
}

// UpdateTempInsert mutates a record still held in tempInserts, re-homing it
// within tempInserts if the patch touches the PK.
func (s *Store) UpdateTempInsert(pkStr string, patch kvtypes.PartialRecord) (kvtypes.Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tempInserts[pkStr]
	if !ok {
		return nil, "", kvtypes.NewExternalModification(pkStr)
	}
	merged := cur.Merge(patch)
	newPk := pkStr
	if s.pkMgr.IsPartialRecordPartOfPk(patch) {
		np, err := s.pkMgr.BuildFromRecord(kvtypes.PartialRecord(merged))
		if err != nil {
			return nil, "", err
		}
		newPk = np
	}
	if newPk != pkStr {
		delete(s.tempInserts, pkStr)
		if s.isPrimaryKeyInUse(newPk, nil) {
			return nil, "", kvtypes.NewDuplicatePrimaryKeyValue(newPk)
		}
		for i, k := range s.tempInsertOrder {
			if k == pkStr {
				s.tempInsertOrder[i] = newPk
				break
			}
		}
	}
	s.tempInserts[newPk] = merged
	return merged.Clone(), newPk, nil
}

// UpdateCommitted merges patch into the pending (or freshly snapshotted)
// state of the committed record at committedPk.
func (s *Store) UpdateCommitted(committedPk string, patch kvtypes.PartialRecord) (kvtypes.Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, touched := s.originalPrimaryKeyMap[committedPk]
	if !touched {
		v, ok := s.committed.Get(committedPk)
		if !ok {
			return nil, "", kvtypes.NewExternalModification(committedPk)
		}
		merged := v.Data.Merge(patch)
		newPk := committedPk
		if s.pkMgr.IsPartialRecordPartOfPk(patch) {
			np, err := s.pkMgr.BuildFromRecord(kvtypes.PartialRecord(merged))
			if err != nil {
				return nil, "", err
			}
			newPk = np
		}
		tc = &TemporalChange{Action: Updated, Changes: kvtypes.Versioned{Data: merged, Version: v.Version}}
		if newPk != committedPk {
			if s.isPrimaryKeyInUse(newPk, tc) {
				return nil, "", kvtypes.NewDuplicatePrimaryKeyValue(newPk)
			}
			tc.HasOriginalPk = false
			tc.NewPk = newPk
			s.updatedPrimaryKeyMap[newPk] = tc
		} else {
			tc.HasOriginalPk = true
		}
		s.originalPrimaryKeyMap[committedPk] = tc
		return merged.Clone(), newPk, nil
	}

	if tc.Action == Deleted {
		return nil, "", kvtypes.NewExternalModification(committedPk)
	}
	merged := tc.Changes.Data.Merge(patch)
	newPk := committedPk
	if s.pkMgr.IsPartialRecordPartOfPk(patch) {
		np, err := s.pkMgr.BuildFromRecord(kvtypes.PartialRecord(merged))
		if err != nil {
			return nil, "", err
		}
		newPk = np
	} else if !tc.HasOriginalPk {
		newPk = tc.NewPk
	}

	if newPk != committedPk {
		if s.isPrimaryKeyInUse(newPk, tc) {
			return nil, "", kvtypes.NewDuplicatePrimaryKeyValue(newPk)
		}
		if !tc.HasOriginalPk && tc.NewPk != newPk {
			delete(s.updatedPrimaryKeyMap, tc.NewPk)
		}
		s.updatedPrimaryKeyMap[newPk] = tc
		tc.HasOriginalPk = false
		tc.NewPk = newPk
	} else if !tc.HasOriginalPk {
		delete(s.updatedPrimaryKeyMap, tc.NewPk)
		tc.HasOriginalPk = true
		tc.NewPk = ""
	}
	tc.Changes.Data = merged
	return merged.Clone(), newPk, nil
}

// DeleteByPk resolves pkStr in the order tempInsert -> updatedPrimaryKeyMap
// -> originalPrimaryKeyMap -> committed, returning the deleted
// record's data, or (nil, nil) if it was already deleted or never present.
func (s *Store) DeleteByPk(pkStr string) (kvtypes.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.tempInserts[pkStr]; ok {
		delete(s.tempInserts, pkStr)
		for i, k := range s.tempInsertOrder {
			if k == pkStr {
				s.tempInsertOrder = append(s.tempInsertOrder[:i], s.tempInsertOrder[i+1:]...)
				break
			}
		}
		return rec.Clone(), nil
	}
	if tc, ok := s.updatedPrimaryKeyMap[pkStr]; ok {
		data := tc.Changes.Data.Clone()
		delete(s.updatedPrimaryKeyMap, pkStr)
		tc.Action = Deleted
		tc.HasOriginalPk = true
		tc.NewPk = ""
		s.committedDeleteCount++
		return data, nil
	}
	if tc, ok := s.originalPrimaryKeyMap[pkStr]; ok {
		if tc.Action == Deleted {
			return nil, nil
		}
		data := tc.Changes.Data.Clone()
		if !tc.HasOriginalPk && tc.NewPk != "" {
			delete(s.updatedPrimaryKeyMap, tc.NewPk)
		}
		tc.Action = Deleted
		tc.HasOriginalPk = true
		tc.NewPk = ""
		s.committedDeleteCount++
		return data, nil
	}
	if v, ok := s.committed.Get(pkStr); ok {
		s.originalPrimaryKeyMap[pkStr] = &TemporalChange{
			Action:        Deleted,
			Changes:       v,
			HasOriginalPk: true,
		}
		s.committedDeleteCount++
		return v.Data.Clone(), nil
	}
	return nil, nil
}

// OriginalPks returns every committed PK this transaction has touched
// (updated or deleted), the set Prepare must acquire Exclusive on.
func (s *Store) OriginalPks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.originalPrimaryKeyMap))
	for k := range s.originalPrimaryKeyMap {
		out = append(out, k)
	}
	return out
}

// TempInsertKeysOrdered returns every PK currently buffered in tempInserts,
// in insertion order.
func (s *Store) TempInsertKeysOrdered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tempInsertOrder))
	copy(out, s.tempInsertOrder)
	return out
}

// TempInsertRecord returns a defensive copy of the buffered insert at pkStr,
// if any.
func (s *Store) TempInsertRecord(pkStr string) (kvtypes.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tempInserts[pkStr]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Validate checks the three prepare preconditions:
//  1. every tempInsert PK colliding with a committed PK is legal only if
//     that committed PK is scheduled for delete or abandoned by an update;
//  2. the same rule for every updatedPrimaryKeyMap new PK;
//  3. every touched committed record must still exist at its snapshotted
//     version.
func (s *Store) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pkStr := range s.tempInserts {
		if s.committed.Has(pkStr) && !s.shadowed(pkStr) {
			return kvtypes.NewDuplicatePrimaryKeyValue(pkStr)
		}
	}
	for newPk := range s.updatedPrimaryKeyMap {
		if s.committed.Has(newPk) && !s.shadowed(newPk) {
			return kvtypes.NewDuplicatePrimaryKeyValue(newPk)
		}
	}
	for origPk, tc := range s.originalPrimaryKeyMap {
		v, ok := s.committed.Get(origPk)
		if !ok || v.Version != tc.Changes.Version {
			return kvtypes.NewExternalModification(origPk)
		}
	}
	return nil
}

// Apply commits every buffered change to the underlying committed store in
// two passes. Pass 1 vacates every committed slot this transaction frees
// (deletes, and the old side of a PK-changing update); pass 2 writes every
// new state (PK-preserving updates in place, PK-changing updates at their
// new PK, then tempInserts). Splitting vacate from write this way is
// required because originalPrimaryKeyMap has no defined iteration order: a
// single pass could process a rehome onto a PK before the sibling entry
// that frees that same PK, and spuriously collide with a record this same
// Apply is about to remove. The caller must hold Exclusive locks on every
// key touched (enforced by the caller's prepare) and must have already run
// Validate successfully.
func (s *Store) Apply() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for origPk, tc := range s.originalPrimaryKeyMap {
		if tc.Action == Deleted || !tc.HasOriginalPk {
			s.committed.Delete(origPk)
		}
	}
	for origPk, tc := range s.originalPrimaryKeyMap {
		if tc.Action != Updated {
			continue
		}
		if tc.HasOriginalPk {
			if _, err := s.committed.ApplyUpdate(origPk, origPk, tc.Changes.Data, tc.Changes.Version); err != nil {
				return err
			}
			continue
		}
		s.committed.PutVersioned(tc.NewPk, tc.Changes.Data, tc.Changes.Version+1)
	}
	for pkStr, data := range s.tempInserts {
		if err := s.committed.Insert(pkStr, data); err != nil {
			return err
		}
	}
	return nil
}
