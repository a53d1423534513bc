// Package broadcast fans poller events out to connected viewers over
// websockets. Each viewer may belong to any number of rooms; a subscriber's
// room is named after the subscriber's user ID.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/poller"
)

var ErrEmptyRoom = errors.New("broadcast: empty room")

// Hub manages viewer connections and room membership.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	unregister chan *Client
	done       chan struct{}
	closed     bool
	stopOnce   sync.Once
	mu         sync.RWMutex

	codec     *codec
	onConnect func(*Client)
	logger    *zap.Logger

	viewers prometheus.Gauge
	dropped prometheus.Counter
	frames  *prometheus.CounterVec
}

var _ poller.Broadcaster = (*Hub)(nil)

// NewHub creates a hub. reg may be nil, in which case metrics are kept but
// not exported.
func NewHub(logger *zap.Logger, reg prometheus.Registerer) (*Hub, error) {
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	factory := promauto.With(reg)
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		codec:      c,
		logger:     logger,
		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_viewers",
			Help: "Connected websocket viewers.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livesync_viewer_drops_total",
			Help: "Viewers disconnected because their send buffer was full.",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_frames_sent_total",
			Help: "Frames queued to viewers, by event.",
		}, []string{"event"}),
	}, nil
}

// OnConnect registers a hook that runs once for every new viewer, after it
// has joined its subscriber room. Must be set before Run.
func (h *Hub) OnConnect(fn func(*Client)) {
	h.onConnect = fn
}

// add registers a viewer and joins its subscriber room. It reports false
// once the hub has shut down.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	if client.subscriber != "" {
		h.joinLocked(client, client.subscriber)
	}
	h.viewers.Inc()
	h.logger.Debug("viewer registered",
		zap.String("connID", client.connID),
		zap.String("subscriber", client.subscriber),
	)
	return true
}

// Run processes disconnects until ctx is cancelled, then closes every
// viewer.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.Int("viewers", h.Count()))
			h.shutdown()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				for room := range client.rooms {
					h.leaveLocked(client, room)
				}
				close(client.send)
				h.viewers.Dec()
			}
			h.mu.Unlock()
			h.logger.Debug("viewer unregistered", zap.String("connID", client.connID))
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.rooms = make(map[string]map[*Client]bool)
		h.mu.Unlock()
		h.viewers.Set(0)
		close(h.done)
	})
}

// Publish sends event to every viewer in room.
func (h *Hub) Publish(room, event string, payload any) error {
	if room == "" {
		return ErrEmptyRoom
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.fanout(targets, event, messageEnvelope(room, event, payload))
}

// PublishAll sends event to every connected viewer.
func (h *Hub) PublishAll(event string, payload any) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.fanout(targets, event, messageEnvelope("", event, payload))
}

// fanout encodes the envelope at most once per protocol.
func (h *Hub) fanout(targets []*Client, event string, env map[string]any) error {
	if len(targets) == 0 {
		return nil
	}
	frames := make(map[Protocol][]byte, 2)
	for _, c := range targets {
		if _, ok := frames[c.protocol]; ok {
			continue
		}
		frame, err := h.codec.encode(c.protocol, env)
		if err != nil {
			return fmt.Errorf("encode %s frame: %w", event, err)
		}
		frames[c.protocol] = frame
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range targets {
		if h.deliverLocked(c, frames[c.protocol]) {
			h.frames.WithLabelValues(event).Inc()
		}
	}
	return nil
}

// deliverLocked queues a frame without blocking. A viewer whose buffer is
// full is disconnected. Callers hold at least the read lock.
func (h *Hub) deliverLocked(c *Client, frame []byte) bool {
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		h.dropped.Inc()
		h.logger.Warn("viewer too slow, disconnecting", zap.String("connID", c.connID))
		go h.drop(c)
		return false
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// send encodes one envelope for a single viewer.
func (h *Hub) send(c *Client, env map[string]any) error {
	frame, err := h.codec.encode(c.protocol, env)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(c, frame)
	return nil
}

// Join adds a viewer to a room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	h.joinLocked(c, room)
	h.logger.Debug("viewer joined room", zap.String("connID", c.connID), zap.String("room", room))
}

// Leave removes a viewer from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	h.logger.Debug("viewer left room", zap.String("connID", c.connID), zap.String("room", room))
}

func (h *Hub) joinLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	c.rooms[room] = true
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Rooms returns every room with at least one viewer, sorted.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
