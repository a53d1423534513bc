package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
)

var sessionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(_[A-Za-z0-9_-]+)?$`)

// ValidSession reports whether name is a session directory name:
// YYYY-MM-DD with an optional _label suffix.
func ValidSession(name string) bool {
	return sessionPattern.MatchString(name)
}

// Player serves frames of the current recording and can swap recordings
// without a restart.
type Player struct {
	dataDir  string
	interval time.Duration
	cursor   *Cursor
	logger   *zap.Logger

	mu       sync.RWMutex
	current  *Recording
	loadedAt time.Time

	reloadMu sync.Mutex
}

func NewPlayer(cfg *config.ReplayConfig, logger *zap.Logger) (*Player, error) {
	rec, err := LoadRecording(cfg.SessionDir(), logger)
	if err != nil {
		return nil, err
	}
	return &Player{
		dataDir:  cfg.DataDir,
		interval: cfg.Interval,
		cursor:   NewCursor(Mode(cfg.CacheMode)),
		logger:   logger,
		current:  rec,
		loadedAt: time.Now(),
	}, nil
}

// Run advances playback every interval until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("replay started",
		zap.String("session", p.Session()),
		zap.Duration("interval", p.interval),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cursor.Advance()
		}
	}
}

// Frame returns the response body recorded for endpoint at the current
// position.
func (p *Player) Frame(endpoint string) (json.RawMessage, int, error) {
	p.mu.RLock()
	rec := p.current
	p.mu.RUnlock()

	length, err := rec.Len(endpoint)
	if err != nil {
		return nil, 0, err
	}
	idx, exhausted := p.cursor.Index(length)
	if exhausted {
		return nil, idx, ErrExhausted
	}
	frame, err := rec.Frame(endpoint, idx)
	return frame, idx, err
}

func (p *Player) Session() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Session()
}

// Status describes the loaded recording.
type Status struct {
	Session   string         `json:"session"`
	LoadedAt  time.Time      `json:"loadedAt"`
	Position  int            `json:"position"`
	Endpoints map[string]int `json:"endpoints"`
}

func (p *Player) Status() Status {
	p.mu.RLock()
	rec, loadedAt := p.current, p.loadedAt
	p.mu.RUnlock()

	st := Status{
		Session:   rec.Session(),
		LoadedAt:  loadedAt,
		Position:  p.cursor.Position(),
		Endpoints: make(map[string]int),
	}
	for _, ep := range rec.Endpoints() {
		st.Endpoints[ep], _ = rec.Len(ep)
	}
	return st
}

// ReloadResult contains the result of a successful reload operation.
type ReloadResult struct {
	PreviousSession string    `json:"previousSession"`
	NewSession      string    `json:"newSession"`
	LoadedAt        time.Time `json:"loadedAt"`
	Endpoints       int       `json:"endpoints"`
}

// Reload loads another session, swaps it in and rewinds playback. On error
// the current recording stays in place.
func (p *Player) Reload(session string) (*ReloadResult, error) {
	if !p.reloadMu.TryLock() {
		return nil, fmt.Errorf("reload already in progress")
	}
	defer p.reloadMu.Unlock()

	if !ValidSession(session) {
		return nil, fmt.Errorf("invalid session name: %s (expected YYYY-MM-DD[_label])", session)
	}
	dir := filepath.Join(p.dataDir, session)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session not found: %s", session)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check session directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("session path is not a directory: %s", session)
	}

	rec, err := LoadRecording(dir, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", session, err)
	}

	p.mu.Lock()
	previous := p.current.Session()
	p.current = rec
	p.loadedAt = time.Now()
	loadedAt := p.loadedAt
	p.mu.Unlock()

	rewound := p.cursor.Reset()

	p.logger.Info("replay reloaded",
		zap.String("previousSession", previous),
		zap.String("newSession", session),
		zap.Int("rewoundFrom", rewound),
	)
	return &ReloadResult{
		PreviousSession: previous,
		NewSession:      session,
		LoadedAt:        loadedAt,
		Endpoints:       len(rec.Endpoints()),
	}, nil
}
