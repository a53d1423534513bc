package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// ReplayConfig configures the fake telemetry provider.
type ReplayConfig struct {
	Port      string
	DataDir   string
	Session   string
	CacheMode string // "exhaust" or "rotation"
	Interval  time.Duration
}

func LoadReplayConfig() (*ReplayConfig, error) {
	dataDir := getEnvOrDefault("REPLAY_DATA_DIR", "./recordings")
	session := getEnvOrDefault("REPLAY_SESSION", "")

	// Auto-detect latest session if REPLAY_SESSION is empty or "latest"
	if session == "" || session == "latest" {
		detected, err := detectLatestSession(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to detect latest session in %s: %w", dataDir, err)
		}
		session = detected
	}

	interval, err := time.ParseDuration(getEnvOrDefault("REPLAY_INTERVAL", "1s"))
	if err != nil || interval <= 0 {
		interval = time.Second
	}

	cfg := &ReplayConfig{
		Port:      getEnvOrDefault("PORT", "10086"),
		DataDir:   dataDir,
		Session:   session,
		CacheMode: getEnvOrDefault("REPLAY_MODE", "rotation"),
		Interval:  interval,
	}

	if cfg.CacheMode != "exhaust" && cfg.CacheMode != "rotation" {
		return nil, fmt.Errorf("invalid REPLAY_MODE: %s (must be 'exhaust' or 'rotation')", cfg.CacheMode)
	}

	return cfg, nil
}

// SessionDir is the directory holding the selected recording.
func (c *ReplayConfig) SessionDir() string {
	return filepath.Join(c.DataDir, c.Session)
}

// detectLatestSession returns the newest non-empty date-named recording folder.
func detectLatestSession(dataDir string) (string, error) {
	datePattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(_.+)?$`)

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return "", fmt.Errorf("reading data directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if !entry.IsDir() || !datePattern.MatchString(entry.Name()) {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(dataDir, entry.Name()))
		if err == nil && len(sub) > 0 {
			sessions = append(sessions, entry.Name())
		}
	}

	if len(sessions) == 0 {
		return "", fmt.Errorf("no recording sessions found in %s", dataDir)
	}

	// YYYY-MM-DD prefixes sort lexicographically
	sort.Sort(sort.Reverse(sort.StringSlice(sessions)))

	return sessions[0], nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
