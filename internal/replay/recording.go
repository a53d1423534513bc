// Package replay serves recorded provider responses so the poller can be run
// against a realistic provider without network access.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrUnknownEndpoint = errors.New("endpoint not recorded")
	ErrExhausted       = errors.New("recording exhausted")
)

// Recording holds every frame of one session, keyed by endpoint. A session
// directory contains one <endpoint>.jsonl file per provider endpoint, one
// response body per line.
type Recording struct {
	session string
	frames  map[string][]json.RawMessage
}

func LoadRecording(dir string, logger *zap.Logger) (*Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	rec := &Recording{
		session: filepath.Base(dir),
		frames:  make(map[string][]json.RawMessage),
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		endpoint := strings.TrimSuffix(entry.Name(), ".jsonl")
		path := filepath.Join(dir, entry.Name())

		frames, err := loadJSONL(path)
		if err != nil {
			logger.Warn("failed to load recording", zap.String("path", path), zap.Error(err))
			continue
		}
		if len(frames) == 0 {
			continue
		}
		rec.frames[endpoint] = frames
		logger.Info("loaded recording",
			zap.String("endpoint", endpoint),
			zap.Int("frames", len(frames)),
		)
	}

	if len(rec.frames) == 0 {
		return nil, fmt.Errorf("no JSONL recordings found in %s", dir)
	}
	return rec, nil
}

func loadJSONL(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var frames []json.RawMessage
	scanner := bufio.NewScanner(file)

	// Player lists for a full lobby exceed the default line limit.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("line %d: invalid JSON", lineNum)
		}
		frames = append(frames, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (r *Recording) Session() string { return r.session }

// Len returns the number of frames recorded for endpoint.
func (r *Recording) Len(endpoint string) (int, error) {
	frames, ok := r.frames[endpoint]
	if !ok {
		return 0, ErrUnknownEndpoint
	}
	return len(frames), nil
}

func (r *Recording) Frame(endpoint string, index int) (json.RawMessage, error) {
	frames, ok := r.frames[endpoint]
	if !ok {
		return nil, ErrUnknownEndpoint
	}
	if index < 0 || index >= len(frames) {
		return nil, ErrExhausted
	}
	return frames[index], nil
}

// Endpoints lists recorded endpoints, sorted.
func (r *Recording) Endpoints() []string {
	out := make([]string, 0, len(r.frames))
	for k := range r.frames {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
