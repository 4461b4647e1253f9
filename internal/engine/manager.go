package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/silt-cache/silt/internal/config"
	"github.com/silt-cache/silt/internal/hotstore"
	"github.com/silt-cache/silt/internal/metrics"
)

// LeakedManagers counts managers that were garbage-collected without
// Shutdown having been called. Tests assert on it; production code should
// treat any increment as a bug.
var LeakedManagers atomic.Int64

// Options carries optional Manager settings.
type Options struct {
	// Config sets the initial cache timings; zero value means defaults.
	Config config.CacheConfig
	// Metrics receives cache counters; nil disables collection.
	Metrics *metrics.Collector
}

// Manager owns one resource root's cache consistency: the drainer, the
// reactor, the shared stop signal, the mutable CacheConfig, and the state
// consumed by the request middleware.
type Manager struct {
	root   string
	store  hotstore.Store
	merger Merger
	mets   *metrics.Collector
	cfg    *configCell

	drainer *Drainer
	reactor *Reactor // nil when the expiry subscription could not be established

	stopCh   chan struct{}
	stopOnce sync.Once
	done     *atomic.Bool
	guard    *leakGuard
}

// NewManager constructs the workers for one resource root and starts them.
// The writer and deleter run concurrently with request handling and must be
// reentrant. A failed expiry subscription is logged and disables
// tombstone-to-database propagation; everything else keeps working.
func NewManager(
	store hotstore.Store,
	root string,
	writer Writer,
	deleter Deleter,
	merger Merger,
	opts Options,
) (*Manager, error) {
	if store == nil {
		panic("engine: NewManager requires a non-nil store")
	}
	if writer == nil || deleter == nil || merger == nil {
		panic("engine: NewManager requires non-nil writer, deleter and merger")
	}
	if root == "" {
		return nil, fmt.Errorf("engine: resource root must not be empty")
	}

	cfg := opts.Config
	if cfg == (config.CacheConfig{}) {
		cfg = config.DefaultCacheConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	done := &atomic.Bool{}
	m := &Manager{
		root:   root,
		store:  store,
		merger: merger,
		mets:   opts.Metrics,
		cfg:    newConfigCell(cfg),
		stopCh: make(chan struct{}),
		done:   done,
		guard:  newLeakGuard(root, done),
	}

	// Workers deliberately hold the cell, the store and the stop channel,
	// never the Manager itself, so a dropped Manager stays collectable and
	// the leak guard can fire.
	m.drainer = newDrainer(store, root, writer, m.cfg, opts.Metrics, m.stopCh)
	m.drainer.Start()

	sub, err := store.SubscribeExpired(context.Background())
	if err != nil {
		log.Printf("[engine] expiry subscription failed for root %q, tombstone propagation disabled: %v", root, err)
	} else {
		m.reactor = newReactor(store, root, deleter, opts.Metrics, sub, m.stopCh)
		m.reactor.Start()
	}

	return m, nil
}

// Root returns the resource root this manager owns.
func (m *Manager) Root() string {
	return m.root
}

// Config returns the current cache timings.
func (m *Manager) Config() config.CacheConfig {
	return m.cfg.Get()
}

// ReplaceConfig swaps the cache timings wholesale. The drainer picks the new
// interval up at its next tick.
func (m *Manager) ReplaceConfig(cfg config.CacheConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg.Replace(cfg)
	return nil
}

// Shutdown cancels both workers and waits for the drainer's final pass and
// the reactor's tombstone sweep. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.drainer.Wait()
	if m.reactor != nil {
		m.reactor.Wait()
	}
	m.done.Store(true)
}

// leakGuard detects managers dropped without Shutdown. It is a separate
// allocation so worker goroutines never keep it reachable.
type leakGuard struct {
	root string
	done *atomic.Bool
}

func newLeakGuard(root string, done *atomic.Bool) *leakGuard {
	g := &leakGuard{root: root, done: done}
	runtime.SetFinalizer(g, finalizeLeakGuard)
	return g
}

func finalizeLeakGuard(g *leakGuard) {
	if !g.done.Load() {
		LeakedManagers.Add(1)
		log.Printf("[engine] manager for root %q dropped without Shutdown(); background workers leaked", g.root)
	}
}
