package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/model"
)

type mockSource struct {
	backpacks    []model.BackpackItem
	err          error
	backpackHits int
}

func (m *mockSource) Players(context.Context) ([]Player, error)       { return nil, ErrNoData }
func (m *mockSource) Circle(context.Context) (json.RawMessage, error) { return nil, ErrNoData }
func (m *mockSource) Backpacks(context.Context) ([]model.BackpackItem, error) {
	m.backpackHits++
	return m.backpacks, m.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_ = c.Set(context.Background(), "k", []byte("v"), 30*time.Second)
	if v, ok, _ := c.Get(context.Background(), "k"); !ok || string(v) != "v" {
		t.Fatalf("expected cached value, got %q %v", v, ok)
	}

	now = now.Add(30 * time.Second)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Error("expected entry to expire after ttl")
	}
}

func TestCachedSourceServesWithinTTL(t *testing.T) {
	src := &mockSource{backpacks: []model.BackpackItem{{"TeamID": 1.0, "PlayerKey": 2.0}}}
	cached := NewCachedSource(src, NewMemoryCache(), 30*time.Second, zap.NewNop())

	for i := 0; i < 3; i++ {
		items, err := cached.Backpacks(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 1 || items[0].PlayerKey() != 2 {
			t.Fatalf("unexpected items: %v", items)
		}
	}
	if src.backpackHits != 1 {
		t.Errorf("expected 1 provider call, got %d", src.backpackHits)
	}
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	src := &mockSource{err: ErrUnavailable}
	cached := NewCachedSource(src, NewMemoryCache(), 30*time.Second, zap.NewNop())

	_, _ = cached.Backpacks(context.Background())
	_, err := cached.Backpacks(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if src.backpackHits != 2 {
		t.Errorf("expected provider to be asked twice, got %d", src.backpackHits)
	}
}

func TestFallbackCacheUsesMemoryWhenRedisDown(t *testing.T) {
	mem := NewMemoryCache()
	cache := NewFallbackCache(brokenCache{}, mem, zap.NewNop())

	if err := cache.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("expected fallback set to succeed, got %v", err)
	}
	v, ok, err := cache.Get(context.Background(), "k")
	if err != nil || !ok || string(v) != "v" {
		t.Errorf("expected fallback get to return v, got %q %v %v", v, ok, err)
	}
}
