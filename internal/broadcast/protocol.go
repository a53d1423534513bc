package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SubprotocolJSON     = "json.livesync.v1"
	SubprotocolProtobuf = "protobuf.livesync.v1"
)

// Protocol is the framing negotiated for one connection.
type Protocol int

const (
	ProtocolJSON Protocol = iota
	ProtocolProtobuf
)

func (p Protocol) String() string {
	if p == ProtocolProtobuf {
		return "protobuf"
	}
	return "json"
}

// codec builds downstream frames. JSON frames are text messages; protobuf
// frames are a google.protobuf.Struct of the same envelope, zstd compressed.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) encode(p Protocol, envelope map[string]any) ([]byte, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if p == ProtocolJSON {
		return raw, nil
	}

	// Round-trip through JSON so payload structs become plain maps.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize envelope: %w", err)
	}
	s, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("build struct envelope: %w", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal struct envelope: %w", err)
	}
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

// decode is the inverse of encode.
func (c *codec) decode(p Protocol, frame []byte) (map[string]any, error) {
	if p == ProtocolJSON {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("unmarshal JSON frame: %w", err)
		}
		return m, nil
	}
	b, err := c.dec.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal struct frame: %w", err)
	}
	return s.AsMap(), nil
}

func connectedEnvelope(connID, subscriber string) map[string]any {
	return map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connID,
		"subscriber":   subscriber,
	}
}

func messageEnvelope(room, event string, payload any) map[string]any {
	m := map[string]any{
		"type":  "message",
		"event": event,
		"data":  payload,
	}
	if room != "" {
		m["room"] = room
	}
	return m
}

func ackEnvelope(ackID uint64, success bool) map[string]any {
	return map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
}

func pongEnvelope() map[string]any {
	return map[string]any{"type": "pong"}
}

type joinRequest struct {
	room  string
	ackID *uint64
}

type leaveRequest struct {
	room  string
	ackID *uint64
}

type pingRequest struct{}

// parseUpstream reads a client message. Upstream protobuf frames are an
// uncompressed google.protobuf.Struct with the same fields as the JSON form.
func parseUpstream(p Protocol, data []byte) (any, error) {
	var msg map[string]any
	if p == ProtocolJSON {
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal JSON upstream message: %w", err)
		}
	} else {
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal protobuf upstream message: %w", err)
		}
		msg = s.AsMap()
	}

	msgType, _ := msg["type"].(string)
	room, _ := msg["room"].(string)
	var ackID *uint64
	if v, ok := msg["ackId"].(float64); ok && v >= 0 {
		id := uint64(v)
		ackID = &id
	}

	switch msgType {
	case "joinRoom":
		return &joinRequest{room: room, ackID: ackID}, nil
	case "leaveRoom":
		return &leaveRequest{room: room, ackID: ackID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown upstream message type: %q", msgType)
	}
}
