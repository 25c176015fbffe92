// Package lock implements the per-key shared/exclusive record lock manager:
// timed acquisition, re-entrancy/upgrade, FIFO wake-up of waiters, and a
// non-locking wait-for-unlock-to-read primitive.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
)

// Mode is the lock mode a transaction holds or requests on a key.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "Exclusive"
	}
	return "Shared"
}

type waiter struct {
	tx      string
	mode    Mode
	ready   chan struct{}
	granted bool
}

type keyState struct {
	holders map[string]Mode // tx -> mode held; either one Exclusive entry or any number of Shared entries
	waiters []*waiter
	changed chan struct{} // closed and replaced on every grant/release, for WaitUnlockToRead
}

func newKeyState() *keyState {
	return &keyState{holders: make(map[string]Mode), changed: make(chan struct{})}
}

func (s *keyState) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *keyState) hasExclusiveHolder() bool {
	for _, m := range s.holders {
		if m == Exclusive {
			return true
		}
	}
	return false
}

func (s *keyState) compatibleImmediately(mode Mode) bool {
	if len(s.waiters) > 0 {
		// Honor FIFO: never let a fresh request skip ahead of anyone already queued.
		return false
	}
	if mode == Exclusive {
		return len(s.holders) == 0
	}
	return !s.hasExclusiveHolder()
}

// Manager is the record lock manager, shared across every table and
// transaction that touches the same committed store.
type Manager struct {
	mu     sync.Mutex
	keys   map[string]*keyState
	byTx   map[string]map[string]bool // tx -> set of keys it holds (any mode)
}

// NewManager constructs an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		keys: make(map[string]*keyState),
		byTx: make(map[string]map[string]bool),
	}
}

func (m *Manager) stateFor(key string) *keyState {
	st, ok := m.keys[key]
	if !ok {
		st = newKeyState()
		m.keys[key] = st
	}
	return st
}

func (m *Manager) track(tx, key string) {
	set, ok := m.byTx[tx]
	if !ok {
		set = make(map[string]bool)
		m.byTx[tx] = set
	}
	set[key] = true
}

func (m *Manager) untrack(tx, key string) {
	if set, ok := m.byTx[tx]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.byTx, tx)
		}
	}
}

// HeldMode reports the mode tx currently holds on key, if any.
func (m *Manager) HeldMode(tx, key string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.keys[key]
	if !ok {
		return 0, false
	}
	mode, ok := st.holders[tx]
	return mode, ok
}

// Acquire grants tx the requested mode on key, waiting up to timeout if it
// is not immediately compatible. Re-entrancy: a tx already
// holding Exclusive is satisfied immediately regardless of the requested
// mode; a tx already holding Shared that requests Shared is satisfied
// immediately; a tx already holding Shared that requests Exclusive upgrades
// (the shared grant is released, waking any waiters it was blocking, and the
// exclusive request is (re-)enqueued like a fresh request).
func (m *Manager) Acquire(ctx context.Context, tx, key string, mode Mode, timeout time.Duration) error {
	m.mu.Lock()
	st := m.stateFor(key)

	if cur, ok := st.holders[tx]; ok {
		if cur == Exclusive {
			m.mu.Unlock()
			return nil
		}
		if cur == Shared && mode == Shared {
			m.mu.Unlock()
			return nil
		}
		// Shared -> Exclusive upgrade: release our shared grant first.
		delete(st.holders, tx)
		m.untrack(tx, key)
		if len(st.holders) == 0 {
			m.wakeWaiters(key, st)
		}
		st.broadcast()
	}

	if st.compatibleImmediately(mode) {
		st.holders[tx] = mode
		m.track(tx, key)
		st.broadcast()
		m.mu.Unlock()
		return nil
	}

	w := &waiter{tx: tx, mode: mode, ready: make(chan struct{})}
	st.waiters = append(st.waiters, w)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-timer.C:
		m.mu.Lock()
		defer m.mu.Unlock()
		if w.granted {
			return nil
		}
		m.dequeue(st, w)
		return kvtypes.NewLockTimeout(key)
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		if w.granted {
			return nil
		}
		m.dequeue(st, w)
		return ctx.Err()
	}
}

func (m *Manager) dequeue(st *keyState, w *waiter) {
	for i, other := range st.waiters {
		if other == w {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return
		}
	}
}

// wakeWaiters grants the head of the FIFO queue (and, if it is Shared,
// every consecutive Shared waiter behind it) once the key has no holders.
// Caller must hold m.mu.
func (m *Manager) wakeWaiters(key string, st *keyState) {
	if len(st.waiters) == 0 {
		return
	}
	head := st.waiters[0]
	if head.mode == Exclusive {
		st.waiters = st.waiters[1:]
		head.granted = true
		st.holders[head.tx] = Exclusive
		m.track(head.tx, key)
		close(head.ready)
		return
	}
	i := 0
	for i < len(st.waiters) && st.waiters[i].mode == Shared {
		w := st.waiters[i]
		w.granted = true
		st.holders[w.tx] = Shared
		m.track(w.tx, key)
		close(w.ready)
		i++
	}
	st.waiters = st.waiters[i:]
}

// Release removes tx from key's holders. If the key becomes free, queued
// waiters are woken in FIFO order.
func (m *Manager) Release(tx, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.keys[key]
	if !ok {
		return
	}
	if _, held := st.holders[tx]; !held {
		return
	}
	delete(st.holders, tx)
	m.untrack(tx, key)
	if len(st.holders) == 0 {
		m.wakeWaiters(key, st)
	}
	st.broadcast()
}

// ReleaseAll releases every key tx currently holds (used by rollback/apply).
func (m *Manager) ReleaseAll(tx string) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.byTx[tx]))
	for k := range m.byTx[tx] {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Release(tx, k)
	}
}

// WaitUnlockToRead blocks only while key is held Exclusive by some
// transaction; it never takes a lock itself.
func (m *Manager) WaitUnlockToRead(ctx context.Context, key string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		st, ok := m.keys[key]
		if !ok || !st.hasExclusiveHolder() {
			m.mu.Unlock()
			return nil
		}
		ch := st.changed
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return kvtypes.NewLockTimeout(key)
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return kvtypes.NewLockTimeout(key)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
