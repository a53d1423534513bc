// Package recorder captures live provider responses into a replay session:
// one JSONL file per endpoint, one compacted response body per frame.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/replay"
)

// Fetcher returns raw provider response bodies. telemetry.HTTPClient
// implements it.
type Fetcher interface {
	Raw(ctx context.Context, endpoint string) ([]byte, error)
}

type Recorder struct {
	fetcher Fetcher
	staging *Staging
	workers int
	logger  *zap.Logger
}

type Options struct {
	Session   string
	Endpoints []string
	Frames    int
	Interval  time.Duration
}

// Result summarizes a recording.
type Result struct {
	Session  string
	Frames   int
	Captured map[string]int // frames fetched per endpoint
	Repeated map[string]int // frames filled from the previous body
	Failed   int
	Errors   []string
}

type capture struct {
	endpoint string
	body     []byte
	err      error
}

func NewRecorder(fetcher Fetcher, staging *Staging, workers int, logger *zap.Logger) *Recorder {
	if workers < 1 {
		workers = 1
	}
	return &Recorder{fetcher: fetcher, staging: staging, workers: workers, logger: logger}
}

// Record captures opts.Frames frames, one every opts.Interval. Cancelling
// ctx stops early; whatever was captured is still committed.
func (r *Recorder) Record(ctx context.Context, opts Options) (*Result, error) {
	if !replay.ValidSession(opts.Session) {
		return nil, fmt.Errorf("invalid session name: %s (expected YYYY-MM-DD[_label])", opts.Session)
	}
	if len(opts.Endpoints) == 0 || opts.Frames < 1 {
		return nil, errors.New("nothing to record")
	}
	if _, err := os.Stat(r.staging.FinalDir(opts.Session)); err == nil {
		return nil, fmt.Errorf("session already exists: %s", opts.Session)
	}

	if err := r.staging.Prepare(opts.Session); err != nil {
		return nil, fmt.Errorf("preparing staging: %w", err)
	}
	defer func() {
		if err := r.staging.Cleanup(opts.Session); err != nil {
			r.logger.Warn("staging cleanup failed", zap.Error(err))
		}
	}()

	files := make(map[string]*os.File, len(opts.Endpoints))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, ep := range opts.Endpoints {
		f, err := os.Create(filepath.Join(r.staging.StagingDir(opts.Session), ep+".jsonl"))
		if err != nil {
			return nil, fmt.Errorf("creating %s recording: %w", ep, err)
		}
		files[ep] = f
	}

	res := &Result{
		Session:  opts.Session,
		Captured: make(map[string]int),
		Repeated: make(map[string]int),
	}
	last := make(map[string][]byte, len(opts.Endpoints))

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	r.logger.Info("recording started",
		zap.String("session", opts.Session),
		zap.Strings("endpoints", opts.Endpoints),
		zap.Int("frames", opts.Frames),
		zap.Duration("interval", opts.Interval),
	)

loop:
	for frame := 0; frame < opts.Frames; frame++ {
		for _, c := range r.captureFrame(ctx, opts.Endpoints) {
			body := c.body
			if c.err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("frame %d %s: %v", frame, c.endpoint, c.err))
				// Repeat the previous body so endpoints stay frame aligned.
				if body = last[c.endpoint]; body == nil {
					continue
				}
				res.Repeated[c.endpoint]++
			} else {
				res.Captured[c.endpoint]++
			}
			if err := appendFrame(files[c.endpoint], body); err != nil {
				return nil, fmt.Errorf("writing %s frame: %w", c.endpoint, err)
			}
			last[c.endpoint] = body
		}
		res.Frames++

		if frame == opts.Frames-1 {
			break
		}
		select {
		case <-ctx.Done():
			r.logger.Info("recording interrupted", zap.Int("frames", res.Frames))
			break loop
		case <-ticker.C:
		}
	}

	for ep, f := range files {
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("closing %s recording: %w", ep, err)
		}
		delete(files, ep)
	}
	if err := r.staging.Commit(opts.Session); err != nil {
		return nil, fmt.Errorf("committing session: %w", err)
	}

	r.logger.Info("recording complete",
		zap.String("session", opts.Session),
		zap.Int("frames", res.Frames),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// captureFrame fetches every endpoint once, using up to r.workers
// concurrent requests.
func (r *Recorder) captureFrame(ctx context.Context, endpoints []string) []capture {
	jobs := make(chan string, len(endpoints))
	results := make(chan capture, len(endpoints))

	var wg sync.WaitGroup
	for i := 0; i < r.workers && i < len(endpoints); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ep := range jobs {
				body, err := r.fetcher.Raw(ctx, ep)
				if err == nil {
					body, err = compact(body)
				}
				results <- capture{endpoint: ep, body: body, err: err}
			}
		}()
	}
	for _, ep := range endpoints {
		jobs <- ep
	}
	close(jobs)
	wg.Wait()
	close(results)

	byEndpoint := make(map[string]capture, len(endpoints))
	for c := range results {
		byEndpoint[c.endpoint] = c
	}
	out := make([]capture, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, byEndpoint[ep])
	}
	return out
}

func compact(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	return buf.Bytes(), nil
}

func appendFrame(f *os.File, body []byte) error {
	line := make([]byte, 0, len(body)+1)
	line = append(line, body...)
	line = append(line, '\n')
	_, err := f.Write(line)
	return err
}
