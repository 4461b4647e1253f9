package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/silt-cache/silt/internal/engine"
	"github.com/silt-cache/silt/internal/metrics"
	"github.com/silt-cache/silt/internal/store"
)

// Server wraps the HTTP server and mux.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the cached resource routes (one engine manager per root)
// and the admin endpoints. An empty adminToken leaves the admin routes open;
// intended for development only.
func NewServer(
	addr string,
	port int,
	adminToken string,
	apiMaxBodyBytes int64,
	managers []*engine.Manager,
	st *store.Store,
	mets *metrics.Collector,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Cached resources: the engine middleware fronts the database handler.
	for _, m := range managers {
		root := m.Root()
		h := m.Middleware(NewResourceHandler(st, root))
		mux.Handle("/"+root, h)
		mux.Handle("/"+root+"/", h)
	}

	// Admin routes.
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(managers))
	authed.Handle("PATCH /api/v1/system/config", HandlePatchSystemConfig(managers))
	authed.Handle("GET /api/v1/system/metrics", HandleMetrics(mets))

	limited := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	if adminToken == "" {
		log.Println("[api] admin token empty, admin endpoints are unauthenticated")
		mux.Handle("/api/", limited)
	} else {
		mux.Handle("/api/", AuthMiddleware(adminToken, limited))
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(addr, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
