package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/silt-cache/silt/internal/cachekey"
	"github.com/silt-cache/silt/internal/hotstore"
)

// Auditor periodically counts dirty entries and tombstones per resource root
// and logs a census line. Purely observational; it never mutates keys.
type Auditor struct {
	store hotstore.Store
	roots []string
	c     *cron.Cron
}

// NewAuditor schedules a census on the given cron spec (standard five-field
// syntax, plus @every shorthands).
func NewAuditor(store hotstore.Store, roots []string, spec string) (*Auditor, error) {
	a := &Auditor{
		store: store,
		roots: roots,
		c:     cron.New(),
	}
	if _, err := a.c.AddFunc(spec, a.RunOnce); err != nil {
		return nil, fmt.Errorf("engine: audit schedule %q: %w", spec, err)
	}
	return a, nil
}

// Start begins the schedule.
func (a *Auditor) Start() {
	a.c.Start()
}

// Stop halts the schedule and waits for an in-flight census to finish.
func (a *Auditor) Stop() {
	<-a.c.Stop().Done()
}

// RunOnce performs a single census.
func (a *Auditor) RunOnce() {
	ctx := context.Background()
	for _, root := range a.roots {
		dirty, err := a.store.ScanKeys(ctx, cachekey.DirtyScanPattern(root))
		if err != nil {
			log.Printf("[audit] dirty scan failed for root %q: %v", root, err)
			continue
		}
		tombs, err := a.store.ScanKeys(ctx, cachekey.TombstoneScanPattern(root))
		if err != nil {
			log.Printf("[audit] tombstone scan failed for root %q: %v", root, err)
			continue
		}
		log.Printf("[audit] root=%s dirty=%d tombstones=%d", root, len(dirty), len(tombs))
	}
}
