package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/poller"
)

type handlers struct {
	deps    Deps
	engines map[string]Engine
	busy    map[string]*sync.Mutex
	logger  *zap.Logger
}

func newHandlers(deps Deps, logger *zap.Logger) *handlers {
	h := &handlers{
		deps:    deps,
		engines: make(map[string]Engine, len(deps.Engines)),
		busy:    make(map[string]*sync.Mutex, len(deps.Engines)),
		logger:  logger,
	}
	for _, e := range deps.Engines {
		h.engines[e.Class()] = e
		h.busy[e.Class()] = &sync.Mutex{}
	}
	return h
}

type keyStatus struct {
	Key                 string `json:"key"`
	IntervalMs          int64  `json:"intervalMs"`
	ConsecutiveNoChange int    `json:"consecutiveNoChange"`
	Scheduled           bool   `json:"scheduled"`
}

type classStatus struct {
	Class     string      `json:"class"`
	Scheduled int         `json:"scheduled"`
	Keys      []keyStatus `json:"keys"`
}

func statusOf(e Engine) classStatus {
	states := e.Table().States()
	out := classStatus{Class: e.Class(), Keys: make([]keyStatus, 0, len(states))}
	for _, s := range states {
		if s.Scheduled {
			out.Scheduled++
		}
		out.Keys = append(out.Keys, keyFrom(s))
	}
	return out
}

func keyFrom(s poller.KeyState) keyStatus {
	return keyStatus{
		Key:                 string(s.Key),
		IntervalMs:          s.Interval.Milliseconds(),
		ConsecutiveNoChange: s.ConsecutiveNoChange,
		Scheduled:           s.Scheduled,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"viewers": h.deps.Viewers.Count(),
	}
	scheduled := make(map[string]int, len(h.deps.Engines))
	for _, e := range h.deps.Engines {
		scheduled[e.Class()] = e.Table().Scheduled()
	}
	resp["scheduled"] = scheduled
	if h.deps.HeldRecords != nil {
		resp["recordLocks"] = h.deps.HeldRecords()
	}

	status := http.StatusOK
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *handlers) allStatus(w http.ResponseWriter, _ *http.Request) {
	out := make([]classStatus, 0, len(h.deps.Engines))
	for _, e := range h.deps.Engines {
		out = append(out, statusOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"classes": out,
		"rooms":   h.deps.Viewers.Rooms(),
	})
}

// Class names outside the enum never get here; the request validator answers
// 400 for them. A valid class can still be absent when its engine is not
// running.
func (h *handlers) classStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engines[chi.URLParam(r, "class")]
	if !ok {
		writeError(w, http.StatusNotFound, "class not running")
		return
	}
	writeJSON(w, http.StatusOK, statusOf(e))
}

// discover runs an immediate discovery pass for one class.
func (h *handlers) discover(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	e, ok := h.engines[class]
	if !ok {
		writeError(w, http.StatusNotFound, "class not running")
		return
	}

	mu := h.busy[class]
	if !mu.TryLock() {
		writeError(w, http.StatusConflict, "discovery already in progress")
		return
	}
	defer mu.Unlock()

	start := time.Now()
	if err := e.Discover(r.Context()); err != nil {
		h.logger.Warn("manual discovery failed", zap.String("class", class), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.logger.Info("manual discovery complete",
		zap.String("class", class),
		zap.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, statusOf(e))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
