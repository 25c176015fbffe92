// Package txn implements the Transaction Coordinator: it owns a
// lazily-populated set of Transaction Tables and drives prepare-all /
// apply-all / rollback-all across them.
package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/lynxkv/internal/kvtypes"
	"github.com/untoldecay/lynxkv/internal/logging"
	"github.com/untoldecay/lynxkv/internal/table"
	"github.com/untoldecay/lynxkv/internal/txtable"
)

// Coordinator is one multi-table transaction. It is safe for concurrent use
// by multiple goroutines operating on different tables.
type Coordinator struct {
	ID          string
	isolation   kvtypes.IsolationLevel
	lockTimeout time.Duration
	registry    map[string]*table.Base

	mu           sync.Mutex
	participants map[string]*txtable.Table
	active       atomic.Bool
}

// New creates an active coordinator bound to the given table registry
// (table name -> Base table). registry is read-only from the coordinator's
// perspective; it never adds or removes tables.
func New(id string, registry map[string]*table.Base, isolation kvtypes.IsolationLevel, lockTimeout time.Duration) *Coordinator {
	c := &Coordinator{
		ID:           id,
		isolation:    isolation,
		lockTimeout:  lockTimeout,
		registry:     registry,
		participants: make(map[string]*txtable.Table),
	}
	c.active.Store(true)
	return c
}

// Get returns the transaction-scoped Table handle for tableName, creating
// it lazily on first access.
func (c *Coordinator) Get(tableName string) (*txtable.Table, error) {
	if !c.active.Load() {
		return nil, kvtypes.NewTransactionCompleted(c.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.participants[tableName]; ok {
		return p, nil
	}
	base, ok := c.registry[tableName]
	if !ok {
		return nil, kvtypes.NewTableNotFound(tableName)
	}
	p := txtable.New(c.ID, base, c.isolation, c.lockTimeout)
	c.participants[tableName] = p
	return p, nil
}

func (c *Coordinator) snapshot() []*txtable.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*txtable.Table, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Commit runs Prepare across every touched participant concurrently; if any
// fails, it rolls back the whole coordinator and returns that error. It
// then runs Apply across every participant concurrently. If any Apply
// fails (for example because a non-transactional insert took a buffered
// insert's PK after Prepare), it rolls back the coordinator and returns
// TransactionConflict wrapping that error. On success the coordinator
// becomes inactive and drops its participants.
func (c *Coordinator) Commit(ctx context.Context) error {
	if !c.active.Load() {
		return kvtypes.NewTransactionCompleted(c.ID)
	}
	log := logging.FromContext(ctx)
	parts := c.snapshot()

	log.Debug("preparing transaction", "tx", c.ID, "participants", len(parts))
	prep, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		prep.Go(func() error { return p.Prepare(gctx) })
	}
	if err := prep.Wait(); err != nil {
		log.Debug("prepare failed, rolling back", "tx", c.ID, "err", err)
		_ = c.Rollback()
		return err
	}

	log.Debug("applying transaction", "tx", c.ID)
	apply, _ := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		apply.Go(func() error { return p.Apply() })
	}
	if err := apply.Wait(); err != nil {
		log.Debug("apply failed, rolling back", "tx", c.ID, "err", err)
		_ = c.Rollback()
		return kvtypes.NewTransactionConflict(c.ID, err)
	}

	log.Debug("transaction committed", "tx", c.ID)
	c.active.Store(false)
	c.mu.Lock()
	c.participants = make(map[string]*txtable.Table)
	c.mu.Unlock()
	return nil
}

// Rollback calls Rollback on every participant concurrently and marks the
// coordinator inactive. Idempotent.
func (c *Coordinator) Rollback() error {
	parts := c.snapshot()
	var wg sync.WaitGroup
	wg.Add(len(parts))
	for _, p := range parts {
		p := p
		go func() {
			defer wg.Done()
			_ = p.Rollback()
		}()
	}
	wg.Wait()
	c.active.Store(false)
	return nil
}

// Active reports whether the coordinator may still accept operations.
func (c *Coordinator) Active() bool { return c.active.Load() }
