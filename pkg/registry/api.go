package registry

import (
	"encoding/json"
	"net/http"

	"chunkcast/pkg/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API serves a read-only JSON view of a Registry.
type API struct {
	registry *Registry
}

// NewRouter builds the inspection routes. gatherer may be nil, in which
// case /metrics is not mounted.
func NewRouter(reg *Registry, gatherer prometheus.Gatherer) http.Handler {
	api := &API{registry: reg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", api.Health)
	r.Get("/stats", api.Stats)
	r.Get("/entries", api.ListEntries)
	r.Get("/entries/{hash}", api.GetEntry)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Health handles GET /healthz
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /stats
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Stats())
}

// ListEntries handles GET /entries, in first-seen order
func (a *API) ListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Entries())
}

// GetEntry handles GET /entries/{hash}
func (a *API) GetEntry(w http.ResponseWriter, r *http.Request) {
	hash := types.Fingerprint(chi.URLParam(r, "hash"))
	if !hash.Valid() {
		http.Error(w, "invalid fingerprint", http.StatusBadRequest)
		return
	}

	entry, ok := a.registry.Lookup(hash)
	if !ok {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
