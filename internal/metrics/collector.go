// Package metrics holds hot-path counters for the cache engine.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector holds atomic counters for global and per-root cache activity.
// All fields are updated with atomic operations for lock-free performance.
// A nil Collector is valid and counts nothing.
type Collector struct {
	global *counters
	roots  sync.Map // string -> *counters
}

type counters struct {
	hits           atomic.Int64
	misses         atomic.Int64
	dirtyWrites    atomic.Int64
	tombstones     atomic.Int64
	drained        atomic.Int64
	drainFailures  atomic.Int64
	reactorDeletes atomic.Int64
}

// CountersSnapshot is a point-in-time copy of one scope's counters.
type CountersSnapshot struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	DirtyWrites    int64 `json:"dirty_writes"`
	Tombstones     int64 `json:"tombstones"`
	Drained        int64 `json:"drained"`
	DrainFailures  int64 `json:"drain_failures"`
	ReactorDeletes int64 `json:"reactor_deletes"`
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{global: &counters{}}
}

func (c *Collector) forRoot(root string) *counters {
	if v, ok := c.roots.Load(root); ok {
		return v.(*counters)
	}
	v, _ := c.roots.LoadOrStore(root, &counters{})
	return v.(*counters)
}

func (c *Collector) bump(root string, f func(*counters)) {
	if c == nil {
		return
	}
	f(c.global)
	f(c.forRoot(root))
}

// Hit records a cache hit (dirty or clean).
func (c *Collector) Hit(root string) { c.bump(root, func(x *counters) { x.hits.Add(1) }) }

// Miss records a forward to the downstream handler.
func (c *Collector) Miss(root string) { c.bump(root, func(x *counters) { x.misses.Add(1) }) }

// DirtyWrite records a PUT absorbed into the hot tier.
func (c *Collector) DirtyWrite(root string) { c.bump(root, func(x *counters) { x.dirtyWrites.Add(1) }) }

// Tombstone records a DELETE.
func (c *Collector) Tombstone(root string) { c.bump(root, func(x *counters) { x.tombstones.Add(1) }) }

// Drained records a successful writer call plus promotion.
func (c *Collector) Drained(root string) { c.bump(root, func(x *counters) { x.drained.Add(1) }) }

// DrainFailure records a key left dirty after a failed pass.
func (c *Collector) DrainFailure(root string) {
	c.bump(root, func(x *counters) { x.drainFailures.Add(1) })
}

// ReactorDelete records a deleter invocation.
func (c *Collector) ReactorDelete(root string) {
	c.bump(root, func(x *counters) { x.reactorDeletes.Add(1) })
}

func snapshotOf(x *counters) CountersSnapshot {
	return CountersSnapshot{
		Hits:           x.hits.Load(),
		Misses:         x.misses.Load(),
		DirtyWrites:    x.dirtyWrites.Load(),
		Tombstones:     x.tombstones.Load(),
		Drained:        x.drained.Load(),
		DrainFailures:  x.drainFailures.Load(),
		ReactorDeletes: x.reactorDeletes.Load(),
	}
}

// Snapshot returns the global counters.
func (c *Collector) Snapshot() CountersSnapshot {
	if c == nil {
		return CountersSnapshot{}
	}
	return snapshotOf(c.global)
}

// SnapshotRoots returns per-root counters keyed by resource root.
func (c *Collector) SnapshotRoots() map[string]CountersSnapshot {
	out := make(map[string]CountersSnapshot)
	if c == nil {
		return out
	}
	c.roots.Range(func(k, v any) bool {
		out[k.(string)] = snapshotOf(v.(*counters))
		return true
	})
	return out
}
