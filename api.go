package finca

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler returns the admin HTTP surface: health, scan status, manual
// trigger, and read access to stored listings.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		count, err := s.store.Count(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{
			"state":     s.sched.State().String(),
			"active":    s.sched.Active(),
			"listings":  count,
			"last_scan": s.sched.LastSummary(),
		})
	})

	r.Post("/scan", func(w http.ResponseWriter, _ *http.Request) {
		if !s.TriggerScan() {
			// A scan already holds the gate; the trigger is dropped.
			writeJSON(w, http.StatusConflict, map[string]string{"status": "scan already active"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
	})

	r.Get("/listings", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		listings, err := s.store.ListRecent(r.Context(), limit)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, listings)
	})

	r.Get("/listings/near", func(w http.ResponseWriter, r *http.Request) {
		lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if err1 != nil || err2 != nil {
			writeJSON(w, 400, map[string]string{"error": "lat and lng query params required"})
			return
		}
		radius := queryFloat(r, "radius_km", 2)
		listings, err := s.store.Near(r.Context(), lat, lng, radius)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, listings)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if s := r.URL.Query().Get(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}
