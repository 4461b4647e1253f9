package engine

import (
	"context"
	"log"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/silt-cache/silt/internal/cachekey"
	"github.com/silt-cache/silt/internal/hotstore"
	"github.com/silt-cache/silt/internal/metrics"
)

// Reactor subscribes to hot-tier expired-key events and invokes the user
// deleter for every tombstone of its root that expires. On cancellation it
// sweeps unexpired tombstones so pending deletions survive a graceful
// shutdown.
type Reactor struct {
	store   hotstore.Store
	root    string
	deleter Deleter
	mets    *metrics.Collector
	sub     hotstore.ExpirySubscription

	stopCh <-chan struct{}
	wg     sync.WaitGroup
}

func newReactor(
	store hotstore.Store,
	root string,
	deleter Deleter,
	mets *metrics.Collector,
	sub hotstore.ExpirySubscription,
	stopCh <-chan struct{},
) *Reactor {
	return &Reactor{
		store:   store,
		root:    root,
		deleter: deleter,
		mets:    mets,
		sub:     sub,
		stopCh:  stopCh,
	}
}

// Start launches the background listener goroutine.
func (r *Reactor) Start() {
	r.wg.Add(1)
	go r.run()
}

// Wait blocks until the goroutine has exited (after its shutdown sweep).
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) run() {
	defer r.wg.Done()
	log.Printf("[reactor] listening for expired tombstones under %q", cachekey.TombstoneEventPrefix(r.root))

	for {
		select {
		case key, ok := <-r.sub.Events():
			if !ok {
				// Subscription lost: the rest of the system keeps running,
				// tombstone-driven deletions stop until restart.
				log.Printf("[reactor] expiry subscription closed for root %q", r.root)
				return
			}
			if id, match := cachekey.TombstoneID(r.root, key); match {
				r.invoke(context.Background(), id)
			}
		case <-r.stopCh:
			r.shutdownSweep(context.Background())
			_ = r.sub.Close()
			log.Printf("[reactor] sweep complete for root %q", r.root)
			return
		}
	}
}

func (r *Reactor) invoke(ctx context.Context, id string) {
	if err := r.deleter(ctx, id); err != nil {
		log.Printf("[reactor] deleter failed for id %q: %v", id, err)
		return
	}
	r.mets.ReactorDelete(r.root)
}

// shutdownSweep handles tombstones still pending at cancellation: events
// already queued are drained first, then remaining unexpired tombstones are
// deleted and handed to the deleter. The handled set keeps the two sources
// from triggering two database deletes for one tombstone.
func (r *Reactor) shutdownSweep(ctx context.Context) {
	handled := xsync.NewMap[string, struct{}]()

drain:
	for {
		select {
		case key, ok := <-r.sub.Events():
			if !ok {
				break drain
			}
			if id, match := cachekey.TombstoneID(r.root, key); match {
				handled.Store(id, struct{}{})
				r.invoke(ctx, id)
			}
		default:
			break drain
		}
	}

	keys, err := r.store.ScanKeys(ctx, cachekey.TombstoneScanPattern(r.root))
	if err != nil {
		log.Printf("[reactor] shutdown scan failed for root %q: %v", r.root, err)
		return
	}
	for _, key := range keys {
		id, match := cachekey.TombstoneID(r.root, key)
		if !match {
			continue
		}
		if _, loaded := handled.LoadOrStore(id, struct{}{}); loaded {
			continue
		}
		r.invoke(ctx, id)
		if _, err := r.store.Del(ctx, key); err != nil {
			log.Printf("[reactor] failed to remove tombstone %s: %v", key, err)
		}
	}
}
