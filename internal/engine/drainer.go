package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/silt-cache/silt/internal/cachekey"
	"github.com/silt-cache/silt/internal/hotstore"
	"github.com/silt-cache/silt/internal/metrics"
)

// Drainer is the write-behind worker. On each tick it scans dirty keys for
// its root, persists each value via the user writer, and atomically promotes
// the entry to clean. On cancellation it runs one final pass so no dirty
// entry observed before shutdown is orphaned.
type Drainer struct {
	store  hotstore.Store
	root   string
	writer Writer
	cfg    *configCell
	mets   *metrics.Collector

	stopCh <-chan struct{}
	wg     sync.WaitGroup
}

func newDrainer(
	store hotstore.Store,
	root string,
	writer Writer,
	cfg *configCell,
	mets *metrics.Collector,
	stopCh <-chan struct{},
) *Drainer {
	return &Drainer{
		store:  store,
		root:   root,
		writer: writer,
		cfg:    cfg,
		mets:   mets,
		stopCh: stopCh,
	}
}

// Start launches the background drain goroutine.
func (d *Drainer) Start() {
	d.wg.Add(1)
	go d.run()
}

// Wait blocks until the goroutine has exited (after its final pass).
func (d *Drainer) Wait() {
	d.wg.Wait()
}

func (d *Drainer) run() {
	defer d.wg.Done()
	log.Printf("[drainer] started for root %q", d.root)

	// The interval is re-read each tick so config replacements take effect
	// at the next boundary.
	timer := time.NewTimer(d.cfg.Get().WriteInterval.Std())
	defer timer.Stop()

	for {
		select {
		case <-d.stopCh:
			d.drainPass(context.Background())
			log.Printf("[drainer] final pass complete for root %q", d.root)
			return
		case <-timer.C:
			d.drainPass(context.Background())
			timer.Reset(d.cfg.Get().WriteInterval.Std())
		}
	}
}

// drainPass processes every dirty key once. A scan error aborts the pass
// (the next tick retries); per-key failures leave that key dirty.
func (d *Drainer) drainPass(ctx context.Context) {
	keys, err := d.store.ScanKeys(ctx, cachekey.DirtyScanPattern(d.root))
	if err != nil {
		log.Printf("[drainer] scan failed for root %q: %v", d.root, err)
		return
	}

	ttlClean := d.cfg.Get().TTLClean.Std()
	for _, key := range keys {
		v, ok, err := d.store.Get(ctx, key)
		if err != nil {
			log.Printf("[drainer] read %s failed: %v", key, err)
			d.mets.DrainFailure(d.root)
			continue
		}
		if !ok {
			// Lost a race with a DELETE or another drain; nothing to do.
			continue
		}

		if err := d.writer(ctx, v); err != nil {
			log.Printf("[drainer] writer failed for %s, entry stays dirty: %v", key, err)
			d.mets.DrainFailure(d.root)
			continue
		}

		cleanKey := cachekey.CleanFromDirty(key)
		if err := d.store.PromoteDirty(ctx, key, cleanKey, v, ttlClean); err != nil {
			// Writer already persisted the value; idempotency lets the next
			// pass redo both steps.
			log.Printf("[drainer] promote %s failed, entry stays dirty: %v", key, err)
			d.mets.DrainFailure(d.root)
			continue
		}

		d.mets.Drained(d.root)
		log.Printf("[drainer] drained %s (fp=%016x)", key, xxh3.HashString(v))
	}
}
