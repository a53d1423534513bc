package replay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter serves recorded frames at /{endpoint}, the path the telemetry
// client requests, plus admin routes for status and reload.
func NewRouter(p *Player, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/admin/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.Status())
	})
	r.Post("/admin/reload", func(w http.ResponseWriter, r *http.Request) {
		res, err := p.Reload(r.URL.Query().Get("session"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/{endpoint}", func(w http.ResponseWriter, r *http.Request) {
		endpoint := chi.URLParam(r, "endpoint")
		frame, idx, err := p.Frame(endpoint)
		switch {
		case errors.Is(err, ErrUnknownEndpoint):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no recording for " + endpoint})
			return
		case errors.Is(err, ErrExhausted):
			logger.Debug("recording exhausted", zap.String("endpoint", endpoint), zap.Int("index", idx))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No more data available"})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(frame)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
