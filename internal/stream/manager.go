// Package stream tracks the lifecycle of active publisher streams,
// providing create/remove/list operations used by the ingest listeners
// and the admin API.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stream represents one live publisher stream. Byte and frame counters
// are updated by the ingest read loop.
type Stream struct {
	Key        string
	Source     string
	RemoteAddr string
	StartedAt  time.Time

	bytes  atomic.Int64
	frames atomic.Int64
	done   chan struct{}
}

// AddBytes records n bytes received from the publisher.
func (s *Stream) AddBytes(n int) { s.bytes.Add(int64(n)) }

// AddFrame records one payload accepted by the engine.
func (s *Stream) AddFrame() { s.frames.Add(1) }

// Done is closed when the stream is removed from its manager.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Info is a point-in-time snapshot of a stream for API responses.
type Info struct {
	Key           string    `json:"key"`
	Source        string    `json:"source"`
	RemoteAddr    string    `json:"remoteAddr"`
	StartedAt     time.Time `json:"startedAt"`
	BytesReceived int64     `json:"bytesReceived"`
	Frames        int64     `json:"frames"`
	UptimeMs      int64     `json:"uptimeMs"`
}

// Manager manages the lifecycle of active streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream. Returns the stream and true if created,
// or nil and false if a stream with this key already exists.
func (m *Manager) Create(key, source, remoteAddr string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:        key,
		Source:     source,
		RemoteAddr: remoteAddr,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "source", source)
	return s, true
}

// Remove removes a stream from the manager and closes its Done channel.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key,
			"bytes", s.bytes.Load(), "uptime_ms", time.Since(s.StartedAt).Milliseconds())
	}
}

// Get returns the stream for key, or nil.
func (m *Manager) Get(key string) *Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[key]
}

// List returns snapshots of all active streams.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.streams))
	for _, s := range m.streams {
		infos = append(infos, Info{
			Key:           s.Key,
			Source:        s.Source,
			RemoteAddr:    s.RemoteAddr,
			StartedAt:     s.StartedAt,
			BytesReceived: s.bytes.Load(),
			Frames:        s.frames.Load(),
			UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		})
	}
	return infos
}

// Len returns the number of active streams.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}
