// Package socketcache implements the per-Connection socket cache (§4.2):
// at most one live, reusable socket is held per destination key at a time.
package socketcache

import (
	"sync"

	"github.com/wireclient/excon/pkg/socket"
)

// state tracks where an entry sits in the absent -> open -> open-reusable ->
// closed lifecycle described by §4.2.
type state int

const (
	stateOpen state = iota
	stateReusable
)

type entry struct {
	sock  socket.Socket
	state state
}

// Cache holds at most one socket per destination key, scoped to a single
// Connection (§9: per-Connection locality, not goroutine-local — Go has no
// equivalent of a thread-local store, and a Connection is already the unit
// of serialized use in this engine).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Take removes and returns the cached socket for key if one is present and
// marked reusable, leaving nothing behind (the caller now owns the socket
// until it Puts it back or closes it). Returns nil, false otherwise.
func (c *Cache) Take(key string) (socket.Socket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.state != stateReusable {
		return nil, false
	}
	delete(c.entries, key)
	return e.sock, true
}

// Put stores sock as the reusable entry for key, closing and replacing
// whatever was already cached there (at most one live socket per key).
func (c *Cache) Put(key string, sock socket.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok && old.sock != sock {
		old.sock.Close()
	}
	c.entries[key] = &entry{sock: sock, state: stateReusable}
}

// Evict removes and closes the entry for key, if any. Called when a socket
// proves unusable (I/O error, non-keepalive response, read-to-close framing).
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		e.sock.Close()
	}
}

// Reset closes and removes every cached entry (Connection.Reset, §4.6).
func (c *Cache) Reset() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.sock.Close()
	}
}

// Len reports how many entries are currently cached, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
