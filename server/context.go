package server

import "sync"

// PlayerContext identifies one player on a connection. The transport creates
// it when the session is bound and hands the same instance to every lobby the
// player creates or joins, so an attribute set by one lobby's hooks is visible
// to the others.
type PlayerContext struct {
	id uint64

	mu    sync.RWMutex
	attrs map[string]string
}

// NewPlayerContext returns a context for the given player id with an empty
// attribute set.
func NewPlayerContext(id uint64) *PlayerContext {
	return &PlayerContext{id: id, attrs: make(map[string]string)}
}

// ID returns the player id.
func (c *PlayerContext) ID() uint64 { return c.id }

// Attr returns the free-form attribute stored under key.
func (c *PlayerContext) Attr(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// SetAttr stores a free-form attribute. Safe to call from hooks and from
// application code concurrently.
func (c *PlayerContext) SetAttr(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}
