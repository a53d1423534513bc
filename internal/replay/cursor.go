package replay

import "sync"

// Mode defines how playback handles the end of a recording.
type Mode string

const (
	ModeExhaust  Mode = "exhaust"  // 503 at end
	ModeRotation Mode = "rotation" // wrap to 0
)

// Cursor is the playback position shared by every endpoint. It moves on a
// clock rather than per request, so all endpoints stay in step the way a
// live provider would.
type Cursor struct {
	mu   sync.RWMutex
	pos  int
	mode Mode
}

func NewCursor(mode Mode) *Cursor {
	return &Cursor{mode: mode}
}

// Advance moves playback one frame forward.
func (c *Cursor) Advance() {
	c.mu.Lock()
	c.pos++
	c.mu.Unlock()
}

// Index maps the position onto a recording of length frames.
// Returns (index, isExhausted).
func (c *Cursor) Index(length int) (int, bool) {
	c.mu.RLock()
	pos := c.pos
	c.mu.RUnlock()

	if length <= 0 {
		return 0, true
	}
	if pos >= length {
		if c.mode == ModeExhaust {
			return pos, true
		}
		return pos % length, false
	}
	return pos, false
}

// Reset rewinds playback and returns the previous position.
func (c *Cursor) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.pos
	c.pos = 0
	return prev
}

func (c *Cursor) Position() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos
}
