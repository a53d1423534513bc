package broadcast

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBufferSize = 256

	maxRoomLength = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{SubprotocolJSON, SubprotocolProtobuf},
}

// Client is one viewer connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	connID     string
	subscriber string
	rooms      map[string]bool // guarded by hub.mu
	protocol   Protocol
	logger     *zap.Logger
}

// ConnID identifies the connection in logs and system frames.
func (c *Client) ConnID() string { return c.connID }

// Subscriber is the user whose room the viewer joined on connect, if any.
func (c *Client) Subscriber() string { return c.subscriber }

// Send queues one event for this viewer only.
func (c *Client) Send(event string, payload any) error {
	return c.hub.send(c, messageEnvelope("", event, payload))
}

// ServeWS upgrades the request and registers the viewer. The optional
// subscriber query parameter joins the viewer to that subscriber's room.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	subscriber := strings.TrimSpace(r.URL.Query().Get("subscriber"))
	if subscriber != "" && !isValidRoom(subscriber) {
		http.Error(w, "invalid subscriber", http.StatusBadRequest)
		return
	}

	protocol := ProtocolJSON
	var responseHeader http.Header
	for _, sp := range websocket.Subprotocols(r) {
		switch sp {
		case SubprotocolJSON:
			protocol = ProtocolJSON
		case SubprotocolProtobuf:
			protocol = ProtocolProtobuf
		default:
			continue
		}
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {sp}}
		break
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		connID:     uuid.NewString(),
		subscriber: subscriber,
		rooms:      make(map[string]bool),
		protocol:   protocol,
		logger:     h.logger,
	}

	if !h.add(client) {
		conn.Close()
		return
	}

	if err := h.send(client, connectedEnvelope(client.connID, subscriber)); err != nil {
		h.logger.Warn("send connected frame", zap.Error(err))
	}
	if h.onConnect != nil {
		h.onConnect(client)
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.String("connID", c.connID), zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.protocol == ProtocolProtobuf {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error", zap.String("connID", c.connID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := parseUpstream(c.protocol, data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.Stringer("protocol", c.protocol),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *joinRequest:
		ok := isValidRoom(m.room)
		if ok {
			c.hub.Join(c, m.room)
		} else {
			c.logger.Debug("invalid room name", zap.String("connID", c.connID), zap.String("room", m.room))
		}
		c.ack(m.ackID, ok)

	case *leaveRequest:
		c.hub.Leave(c, m.room)
		c.ack(m.ackID, true)

	case *pingRequest:
		_ = c.hub.send(c, pongEnvelope())
	}
}

func (c *Client) ack(id *uint64, success bool) {
	if id == nil {
		return
	}
	_ = c.hub.send(c, ackEnvelope(*id, success))
}

func isValidRoom(room string) bool {
	return room != "" && len(room) <= maxRoomLength && !strings.ContainsAny(room, " \t\r\n")
}
