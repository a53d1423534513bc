package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(url string, timeout time.Duration, retries int) *HTTPClient {
	logger, _ := zap.NewDevelopment()
	return NewClient(url, 100, timeout, time.Millisecond, retries, logger)
}

func TestPlayers_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gettotalplayerlist" {
			t.Errorf("expected path /gettotalplayerlist, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"playerInfoList":[
			{"uId":5117000123,"playerName":"alice_new","teamId":"3","killNum":4,"health":61.5,"liveState":5,
			 "location":{"x":1,"y":2,"z":3}},
			{"uId":" 42 ","playerName":"bob","teamId":4}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	players, err := client.Players(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(players))
	}
	p := players[0]
	if p.UID != "5117000123" || int(p.TeamID) != 3 || p.KillNum != 4 || p.Health != 61.5 || p.LiveState != 5 {
		t.Errorf("unexpected player: %+v", p)
	}
	if p.Location == nil || p.Location.Z != 3 {
		t.Errorf("expected location to decode, got %+v", p.Location)
	}
	if players[1].Location != nil {
		t.Error("expected missing location to stay nil")
	}
	if players[1].UID.Normalized() != "42" {
		t.Errorf("expected normalized uid 42, got %q", players[1].UID.Normalized())
	}
}

func TestPlayers_EmptyListIsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"playerInfoList":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	if _, err := client.Players(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestPlayers_ServerErrorRetriesThenUnavailable(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 2)
	_, err := client.Players(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	// initial + 2 retries
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestPlayers_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL, 50*time.Millisecond, 0)
	start := time.Now()
	_, err := client.Players(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("fetch was not bounded by the timeout: %s", time.Since(start))
	}
}

func TestCircle_UnwrapsOrFallsBackToBody(t *testing.T) {
	var body atomic.Value
	body.Store(`{"circleInfo":{"blueCircleX":100,"stage":3}}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	info, err := client.Circle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(info) != `{"blueCircleX":100,"stage":3}` {
		t.Errorf("unexpected circle info: %s", info)
	}

	body.Store(`{"stage":4}`)
	info, err = client.Circle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(info) != `{"stage":4}` {
		t.Errorf("expected raw body fallback, got %s", info)
	}
}

func TestBackpacks_MissingWrapperIsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	if _, err := client.Backpacks(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestBackpacks_Decodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"teambackpackinfo":{"TeamBackPackList":[{"TeamID":2,"PlayerKey":7,"MainWeapon1ID":101}]}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	items, err := client.Backpacks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].TeamID() != 2 || items[0].PlayerKey() != 7 {
		t.Errorf("unexpected items: %v", items)
	}
}

func TestConcurrentRequestsShareOneRoundTrip(t *testing.T) {
	var hits atomic.Int32
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-gate
		w.Write([]byte(`{"playerInfoList":[{"uId":"1","teamId":1}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Players(context.Background())
			errs <- err
		}()
	}

	// let every caller join the in-flight request
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 provider request, got %d", hits.Load())
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveFetch(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func TestObserverSeesOutcomes(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"stage":1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	obs := &recordingObserver{}
	client.SetObserver(obs)

	_, _ = client.Circle(context.Background())
	fail.Store(false)
	_, _ = client.Circle(context.Background())

	if len(obs.errs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs.errs))
	}
	if obs.errs[0] == nil || obs.errs[1] != nil {
		t.Errorf("unexpected observations: %v", obs.errs)
	}
}
