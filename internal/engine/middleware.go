package engine

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/silt-cache/silt/internal/cachekey"
)

// Middleware returns the per-request state machine wrapped around next.
// GET and PUT are served from the hot tier when possible; misses forward to
// next and cache its successful response. DELETE never forwards. All other
// methods pass through untouched.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		canonical := cachekey.Canonical(r.URL.RequestURI())
		if canonical == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ctx := r.Context()

		// Tombstone check first: a live tombstone hides every other state.
		// DELETE is exempt so repeated deletes stay idempotent (they refresh
		// the tombstone instead of bouncing off it). A transport error here
		// degrades to normal dispatch rather than hiding a resource that may
		// not be deleted at all.
		if r.Method != http.MethodDelete {
			tombstoned, err := m.store.Exists(ctx, cachekey.Tombstone(canonical))
			if err != nil {
				log.Printf("[engine] tombstone check failed for %s, continuing: %v", canonical, err)
			} else if tombstoned {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		}

		switch r.Method {
		case http.MethodGet:
			m.handleGet(w, r, next, canonical)
		case http.MethodPut:
			m.handlePut(w, r, next, canonical)
		case http.MethodDelete:
			m.handleDelete(w, r, canonical)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// lookupCached returns the newest cached body: dirty wins over clean.
func (m *Manager) lookupCached(r *http.Request, canonical string) (string, bool, error) {
	ctx := r.Context()
	if v, ok, err := m.store.Get(ctx, cachekey.Dirty(canonical)); err != nil || ok {
		return v, ok, err
	}
	return m.store.Get(ctx, canonical)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request, next http.Handler, canonical string) {
	body, ok, err := m.lookupCached(r, canonical)
	if err != nil {
		log.Printf("[engine] read %s failed: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if ok {
		m.mets.Hit(m.root)
		writeHit(w, body)
		return
	}
	m.forwardAndCache(w, r, next, canonical)
}

func (m *Manager) handlePut(w http.ResponseWriter, r *http.Request, next http.Handler, canonical string) {
	old, ok, err := m.lookupCached(r, canonical)
	if err != nil {
		log.Printf("[engine] read %s failed: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		m.forwardAndCache(w, r, next, canonical)
		return
	}

	incoming, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	merged, err := m.merge(old, incoming)
	if err != nil {
		log.Printf("[engine] merger failed for %s: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if err := m.store.Set(ctx, cachekey.Dirty(canonical), merged); err != nil {
		log.Printf("[engine] dirty write failed for %s: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	// The dirty entry is now the newest state; the clean copy would only
	// shadow it after promotion, so drop it. Failure is tolerable: the
	// clean entry dies by TTL and dirty wins on reads meanwhile.
	if _, err := m.store.Del(ctx, canonical); err != nil {
		log.Printf("[engine] clean delete failed for %s: %v", canonical, err)
	}

	m.mets.Hit(m.root)
	m.mets.DirtyWrite(m.root)
	writeHit(w, merged)
}

func (m *Manager) handleDelete(w http.ResponseWriter, r *http.Request, canonical string) {
	ctx := r.Context()
	if _, err := m.store.Del(ctx, canonical, cachekey.Dirty(canonical)); err != nil {
		log.Printf("[engine] delete cleanup failed for %s: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	ttl := m.cfg.Get().TTLDeleted.Std()
	if err := m.store.SetEx(ctx, cachekey.Tombstone(canonical), "1", ttl); err != nil {
		log.Printf("[engine] tombstone write failed for %s: %v", canonical, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	m.mets.Tombstone(m.root)
	w.WriteHeader(http.StatusNoContent)
}

// forwardAndCache runs the downstream handler, caches a successful body as
// a clean entry (best effort), and replays the response unchanged.
func (m *Manager) forwardAndCache(w http.ResponseWriter, r *http.Request, next http.Handler, canonical string) {
	m.mets.Miss(m.root)

	rec := newResponseCapture()
	next.ServeHTTP(rec, r)

	if rec.status >= 200 && rec.status < 300 {
		ttl := m.cfg.Get().TTLClean.Std()
		if err := m.store.SetEx(r.Context(), canonical, rec.body.String(), ttl); err != nil {
			log.Printf("[engine] cache populate failed for %s: %v", canonical, err)
		}
	}

	h := w.Header()
	for k, vs := range rec.header {
		h[k] = vs
	}
	w.WriteHeader(rec.status)
	_, _ = w.Write(rec.body.Bytes())
}

// merge calls the user merger, converting a panic into an error so one bad
// merge cannot take the server down.
func (m *Manager) merge(old, incoming string) (merged string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &mergerPanicError{value: p}
		}
	}()
	return m.merger(old, incoming), nil
}

type mergerPanicError struct {
	value any
}

func (e *mergerPanicError) Error() string {
	return fmt.Sprintf("merger panic: %v", e.value)
}

func readBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeHit(w http.ResponseWriter, body string) {
	w.Header().Set("X-Cache", "HIT")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// responseCapture buffers the downstream response so the body can be cached
// before being replayed to the client.
type responseCapture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseCapture() *responseCapture {
	return &responseCapture{header: make(http.Header), status: http.StatusOK}
}

func (c *responseCapture) Header() http.Header {
	return c.header
}

func (c *responseCapture) WriteHeader(status int) {
	c.status = status
}

func (c *responseCapture) Write(b []byte) (int, error) {
	return c.body.Write(b)
}
