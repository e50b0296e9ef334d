package server

import (
	"net"
	"sync"
	"time"
)

// Conn is one tracked client connection. Owned by the table from accept
// to close; lastActivity is refreshed on every read so the maintenance
// sweep can find idle connections.
type Conn struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"clientId"`
	RemoteAddr   string    `json:"remoteAddr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`

	netConn net.Conn
}

// connTable tracks live connections under a reader/writer lock. A
// network connection appears in at most one entry at a time; Remove is
// idempotent so the read-loop teardown and the idle sweep can race
// safely.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*Conn)}
}

func (t *connTable) Add(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID] = c
}

// Remove deletes the entry and returns it for the caller to close, or
// nil if it was already removed.
func (t *connTable) Remove(id string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	if !ok {
		return nil
	}
	delete(t.conns, id)
	return c
}

func (t *connTable) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[id]; ok {
		c.LastActivity = time.Now()
	}
}

func (t *connTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Snapshot returns copies of all entries for the admin API.
func (t *connTable) Snapshot() []Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, *c)
	}
	return out
}

// IdleSince returns the ids of connections whose last activity predates
// cutoff.
func (t *connTable) IdleSince(cutoff time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, c := range t.conns {
		if c.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
