package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/silt-cache/silt/internal/store"
)

// ResourceHandler is the downstream side of one cached resource: it serves
// reads and writes straight from the entries database. The cache middleware
// sits in front of it, so under normal operation it only sees misses.
type ResourceHandler struct {
	store *store.Store
	root  string
}

// NewResourceHandler creates the database-backed handler for one root.
func NewResourceHandler(st *store.Store, root string) *ResourceHandler {
	return &ResourceHandler{store: st, root: root}
}

// entryID converts the path tail below the root into the id segment used by
// both the database rows and the engine's tombstone ids.
func (h *ResourceHandler) entryID(r *http.Request) string {
	tail := strings.TrimPrefix(r.URL.Path, "/"+h.root)
	tail = strings.TrimPrefix(tail, "/")
	return strings.ReplaceAll(tail, "/", ":")
}

func (h *ResourceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := h.entryID(r)
	switch {
	case r.Method == http.MethodGet && id != "":
		h.handleGet(w, id)
	case r.Method == http.MethodPut && id != "":
		h.handlePut(w, r, id)
	case r.Method == http.MethodPost && id == "":
		h.handleCreate(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method for this path")
	}
}

func (h *ResourceHandler) handleGet(w http.ResponseWriter, id string) {
	body, ok, err := h.store.Get(h.root, id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "database read failed")
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "no such entry")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (h *ResourceHandler) handlePut(w http.ResponseWriter, r *http.Request, id string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read body")
		return
	}
	body, err := injectID(raw, id)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if err := h.store.Upsert(h.root, id, body); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "database write failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (h *ResourceHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read body")
		return
	}
	id := uuid.NewString()
	body, err := injectID(raw, id)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if err := h.store.Upsert(h.root, id, body); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "database write failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, body)
}

// injectID forces the "id" field of a JSON object body. An empty body is
// treated as an empty object.
func injectID(raw []byte, id string) (string, error) {
	obj := make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", err
		}
	}
	obj["id"] = id
	out, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
