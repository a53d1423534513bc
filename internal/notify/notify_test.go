package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
)

type captured struct {
	path, title, priority, tags, auth, body string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			path:     r.URL.Path,
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			auth:     r.Header.Get("Authorization"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestClientSendDown(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	c := NewClient(config.NotifyConfig{
		Enabled: true, Server: srv.URL + "/", Topic: "alerts",
		Priority: "default", Tags: "satellite", Token: "tk",
	}, zap.NewNop())

	err := c.SendDown(context.Background(), Outage{
		Endpoint: "gettotalplayerlist", Failures: 5,
		Since: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), LastError: "timeout",
	})
	if err != nil {
		t.Fatalf("SendDown: %v", err)
	}
	reqs := got()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.path != "/alerts" || r.priority != "high" || r.auth != "Bearer tk" {
		t.Errorf("unexpected request: %+v", r)
	}
	if !strings.Contains(r.title, "gettotalplayerlist") || !strings.HasPrefix(r.tags, "satellite,") {
		t.Errorf("unexpected headers: %+v", r)
	}
	if !strings.Contains(r.body, "Consecutive failures: 5") || !strings.Contains(r.body, "Last error: timeout") {
		t.Errorf("unexpected body: %q", r.body)
	}
}

func TestClientReportsBadStatus(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	c := NewClient(config.NotifyConfig{Enabled: true, Server: srv.URL, Topic: "alerts"}, zap.NewNop())
	if err := c.SendRecovered(context.Background(), Outage{Endpoint: "x"}); err == nil {
		t.Error("expected error on 403")
	}
}

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	if _, ok := New(config.NotifyConfig{}, zap.NewNop()).(NoopNotifier); !ok {
		t.Error("expected NoopNotifier")
	}
}

type recorder struct {
	mu        sync.Mutex
	down      []Outage
	recovered []Outage
}

func (r *recorder) SendDown(_ context.Context, o Outage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = append(r.down, o)
	return nil
}

func (r *recorder) SendRecovered(_ context.Context, o Outage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, o)
	return nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.down), len(r.recovered)
}

func TestOutageWatcherAlertsOncePerOutage(t *testing.T) {
	rec := &recorder{}
	w := NewOutageWatcher(rec, 3, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	boom := errors.New("boom")
	w.ObserveFetch("getcircleinfo", boom)
	w.ObserveFetch("getcircleinfo", boom)
	w.ObserveFetch("gettotalplayerlist", boom)
	if d, _ := rec.counts(); d != 0 {
		t.Fatalf("alerted below threshold")
	}

	for i := 0; i < 5; i++ {
		w.ObserveFetch("getcircleinfo", boom)
	}
	w.ObserveFetch("getcircleinfo", nil)
	w.ObserveFetch("getcircleinfo", nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, r := rec.counts()
		if d == 1 && r == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 down and 1 recovered, got %d and %d", d, r)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.down[0].Failures != 3 || rec.down[0].Endpoint != "getcircleinfo" {
		t.Errorf("unexpected down alert: %+v", rec.down[0])
	}
	if rec.recovered[0].Failures != 7 {
		t.Errorf("expected 7 failed requests in recovery, got %d", rec.recovered[0].Failures)
	}
}

func TestOutageWatcherSuccessResetsCount(t *testing.T) {
	rec := &recorder{}
	w := NewOutageWatcher(rec, 2, zap.NewNop())
	boom := errors.New("boom")

	w.ObserveFetch("e", boom)
	w.ObserveFetch("e", nil)
	w.ObserveFetch("e", boom)

	select {
	case n := <-w.notices:
		t.Fatalf("unexpected notice %+v", n)
	default:
	}
}
