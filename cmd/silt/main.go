package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silt-cache/silt/internal/api"
	"github.com/silt-cache/silt/internal/buildinfo"
	"github.com/silt-cache/silt/internal/config"
	"github.com/silt-cache/silt/internal/engine"
	"github.com/silt-cache/silt/internal/hotstore"
	"github.com/silt-cache/silt/internal/metrics"
	"github.com/silt-cache/silt/internal/store"
)

func main() {
	log.Printf("silt %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}

	resources := loadResources(envCfg)

	// Phase 1: database.
	if err := os.MkdirAll(envCfg.DataDir, 0o755); err != nil {
		fatalf("data dir: %v", err)
	}
	db, err := store.Open(envCfg.DataDir)
	if err != nil {
		fatalf("store: %v", err)
	}
	defer db.Close()
	log.Println("Entries database ready")

	// Phase 2: hot tier. Connect retries, then enables expired-key events;
	// failure here aborts startup.
	conn := envCfg.ConnConfig()
	hot, err := hotstore.Connect(
		context.Background(),
		conn.RedisURL,
		conn.ConnectAttempts,
		conn.ConnectBackoff.Std(),
	)
	if err != nil {
		fatalf("hot tier: %v", err)
	}
	defer hot.Close()
	log.Println("Hot tier connected, expired-key notifications enabled")

	// Phase 3: one engine manager per resource root.
	mets := metrics.NewCollector()
	base := envCfg.CacheConfig()
	managers := make([]*engine.Manager, 0, len(resources))
	roots := make([]string, 0, len(resources))
	for _, res := range resources {
		m, err := engine.NewManager(
			hot,
			res.Root,
			newWriter(db, res.Table),
			newDeleter(db, res.Table),
			mergeLastWins,
			engine.Options{
				Config:  res.CacheConfigFor(base),
				Metrics: mets,
			},
		)
		if err != nil {
			fatalf("engine %q: %v", res.Root, err)
		}
		managers = append(managers, m)
		roots = append(roots, res.Root)
	}

	// Phase 4: optional scheduled key census.
	var auditor *engine.Auditor
	if envCfg.AuditSchedule != "" {
		auditor, err = engine.NewAuditor(hot, roots, envCfg.AuditSchedule)
		if err != nil {
			fatalf("audit: %v", err)
		}
		auditor.Start()
		log.Printf("Audit sweep scheduled: %s", envCfg.AuditSchedule)
	}

	// Phase 5: HTTP server.
	srv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.Port,
		envCfg.AdminToken,
		int64(envCfg.APIMaxBodyBytes),
		managers,
		db,
		mets,
	)
	go func() {
		log.Printf("Listening on %s", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("http server: %v", err)
		}
	}()

	// Block until signal, then drain: HTTP first so no request races the
	// engine shutdown, then each manager's final pass and sweep.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if auditor != nil {
		auditor.Stop()
	}
	for _, m := range managers {
		m.Shutdown()
	}
	log.Println("Shutdown complete")
}

// loadResources reads resources.yaml when configured, falling back to the
// single built-in "posts" resource.
func loadResources(envCfg *config.EnvConfig) []config.Resource {
	if envCfg.ResourcesFile == "" {
		return []config.Resource{{Root: "posts", Table: "posts"}}
	}
	resources, err := config.LoadResources(envCfg.ResourcesFile)
	if err != nil {
		fatalf("%v", err)
	}
	return resources
}

// newWriter persists a drained body into the entries table. The body's "id"
// field locates the row; bodies without one are rejected (and retried on the
// next pass, so fix the upstream payload rather than ignoring the log line).
func newWriter(db *store.Store, table string) engine.Writer {
	return func(ctx context.Context, value string) error {
		id, err := store.IDFromBody(value)
		if err != nil {
			return err
		}
		return db.Upsert(table, id, value)
	}
}

// newDeleter removes the row for an expired tombstone's id segment.
func newDeleter(db *store.Store, table string) engine.Deleter {
	return func(ctx context.Context, id string) error {
		return db.Delete(table, id)
	}
}

// mergeLastWins is the default body merger: the incoming PUT body replaces
// the cached one wholesale.
func mergeLastWins(old, new string) string {
	return new
}

func fatalf(format string, args ...any) {
	log.Printf("FATAL: "+format, args...)
	os.Exit(1)
}
