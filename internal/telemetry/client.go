package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/scoresync/livesync/internal/model"
)

// Source is the live game-state provider as seen by the pollers.
type Source interface {
	Players(ctx context.Context) ([]Player, error)
	Circle(ctx context.Context) (json.RawMessage, error)
	Backpacks(ctx context.Context) ([]model.BackpackItem, error)
}

// Observer is told the outcome of every provider request.
type Observer interface {
	ObserveFetch(endpoint string, err error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
	inflight   singleflight.Group
	observer   Observer
	logger     *zap.Logger
}

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		timeout:    timeout,
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// SetObserver registers o to receive fetch outcomes. Not safe to call while
// requests are in flight.
func (c *HTTPClient) SetObserver(o Observer) {
	c.observer = o
}

func (c *HTTPClient) Players(ctx context.Context) ([]Player, error) {
	body, err := c.get(ctx, EndpointPlayers)
	if err != nil {
		return nil, err
	}

	var resp playerListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, EndpointPlayers, err)
	}
	if len(resp.PlayerInfoList) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, EndpointPlayers)
	}
	return resp.PlayerInfoList, nil
}

// Circle returns the circleInfo object, or the whole body when the provider
// does not wrap it.
func (c *HTTPClient) Circle(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, EndpointCircle)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", ErrBadPayload, EndpointCircle)
	}

	var resp circleResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.CircleInfo) > 0 && !bytes.Equal(resp.CircleInfo, []byte("null")) {
		return resp.CircleInfo, nil
	}
	return json.RawMessage(body), nil
}

// Backpacks returns the team inventory list. A response without the
// teambackpackinfo wrapper counts as no data; an empty list is valid.
func (c *HTTPClient) Backpacks(ctx context.Context) ([]model.BackpackItem, error) {
	body, err := c.get(ctx, EndpointBackpacks)
	if err != nil {
		return nil, err
	}
	return decodeBackpacks(body)
}

func decodeBackpacks(body []byte) ([]model.BackpackItem, error) {
	var resp backpackResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, EndpointBackpacks, err)
	}
	if resp.TeamBackpackInfo == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoData, EndpointBackpacks)
	}
	items := resp.TeamBackpackInfo.TeamBackPackList
	if items == nil {
		items = []model.BackpackItem{}
	}
	return items, nil
}

// Raw returns the unparsed response body of endpoint.
func (c *HTTPClient) Raw(ctx context.Context, endpoint string) ([]byte, error) {
	return c.get(ctx, endpoint)
}

// get collapses concurrent requests for the same endpoint into one round
// trip. The shared request is bounded by the client timeout and survives the
// cancellation of any single caller.
func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	ch := c.inflight.DoChan(endpoint, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		body, err := c.fetch(fetchCtx, endpoint)
		if c.observer != nil {
			c.observer.ObserveFetch(endpoint, err)
		}
		return body, err
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *HTTPClient) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	url := c.baseURL + "/" + endpoint
	c.logger.Debug("requesting", zap.String("url", url))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, ctx.Err())
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrUnavailable, endpoint, resp.StatusCode)
		}

		return body, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, lastErr)
}
