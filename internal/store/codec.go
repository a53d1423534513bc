package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// docCodec turns records into zstd-compressed JSON documents. Match records
// carry dozens of numeric fields per player and compress well.
type docCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newDocCodec() (*docCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &docCodec{enc: enc, dec: dec}, nil
}

func (c *docCodec) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *docCodec) decode(blob []byte, v any) error {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("decompress document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}

func (c *docCodec) close() {
	c.enc.Close()
	c.dec.Close()
}
