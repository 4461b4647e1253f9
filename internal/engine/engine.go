// Package engine implements the cache consistency core: the per-request
// state machine, the write-behind drainer, the tombstone expiry reactor, and
// the manager that owns them.
//
// Keyspace convention, per resource root R and canonical id C = "R:<tail>":
//
//	C          clean: cached copy presumed to match the database
//	dirty:C    pending write, persistent until drained
//	delete:C   tombstone: suppresses reads, triggers a database delete on expiry
package engine

import (
	"context"
	"sync"

	"github.com/silt-cache/silt/internal/config"
)

// Writer persists a dirty value to the database. Invoked by the drainer; it
// must be idempotent because a failed promotion causes re-invocation on a
// later pass. Callers embed their own database handle and timeouts.
type Writer func(ctx context.Context, value string) error

// Deleter removes the database row for a resource id segment. Invoked by the
// reactor when a tombstone expires.
type Deleter func(ctx context.Context, id string) error

// Merger combines the previously cached body with an incoming PUT body.
// It must be pure and total; a panic surfaces to the client as a 500.
type Merger func(old, new string) string

// configCell is the mutex-guarded, replace-entirely runtime config shared by
// the manager and the drainer. The drainer re-reads it each tick.
type configCell struct {
	mu  sync.Mutex
	cfg config.CacheConfig
}

func newConfigCell(cfg config.CacheConfig) *configCell {
	return &configCell{cfg: cfg}
}

func (c *configCell) Get() config.CacheConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *configCell) Replace(cfg config.CacheConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}
