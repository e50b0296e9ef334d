// Package server owns the TCP frame-ingest listener, the connection
// table, and the periodic maintenance loop. Readiness-based multiplexing
// is delegated to the Go runtime's netpoller: one reader goroutine per
// connection with short read deadlines gives the same
// drain-until-would-block discipline as an edge-triggered event loop.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fluxmedia/flux/internal/certs"
	"github.com/fluxmedia/flux/internal/edge"
	"github.com/fluxmedia/flux/internal/engine"
	"github.com/fluxmedia/flux/internal/sysmetrics"
)

// readBufferSize is the per-read buffer for client sockets.
const readBufferSize = 4096

// readDeadline bounds each blocking read so idle connections observe
// shutdown promptly; a deadline miss is a transient condition, not an
// error.
const readDeadline = 1 * time.Second

// Config tunes the server.
type Config struct {
	// ListenAddr is the TCP address to bind.
	ListenAddr string
	// MaintenanceInterval is how often the idle sweep and edge refresh
	// run.
	MaintenanceInterval time.Duration
	// InactivityTimeout is how long a connection may be idle before the
	// sweep closes it.
	InactivityTimeout time.Duration
	// LocalNodeID, when set, names the edge-registry node whose load is
	// refreshed from host metrics during maintenance.
	LocalNodeID string
}

// Server accepts client connections, reads inbound frame bytes, and
// hands them to the media engine asynchronously. It also holds the TLS
// context for encrypted-transport stages; handshake execution and real
// certificate supply belong to the deployment layer.
type Server struct {
	log     *slog.Logger
	cfg     Config
	engine  *engine.Engine
	edges   *edge.Registry
	cert    *certs.CertInfo
	sysinfo *sysmetrics.Collector

	conns    *connTable
	listener net.Listener
	closed   atomic.Bool

	accepted atomic.Int64
	swept    atomic.Int64
}

// New creates a Server. engine and edges are required collaborators;
// cert may be nil when no encrypted transport is configured. If log is
// nil, slog.Default() is used.
func New(cfg Config, eng *engine.Engine, edges *edge.Registry, cert *certs.CertInfo, log *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, errors.New("server: nil engine")
	}
	if edges == nil {
		return nil, errors.New("server: nil edge registry")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 10 * time.Minute
	}
	return &Server{
		log:     log.With("component", "server"),
		cfg:     cfg,
		engine:  eng,
		edges:   edges,
		cert:    cert,
		sysinfo: sysmetrics.NewCollector(),
		conns:   newConnTable(),
	}, nil
}

// TLSConfig returns the TLS context held for encrypted transports, or
// nil when none was supplied.
func (s *Server) TLSConfig() *tls.Config {
	if s.cert == nil {
		return nil
	}
	return s.cert.TLSConfig()
}

// Start binds the listener and blocks running the accept loop until ctx
// is cancelled. Bind or listen failure is startup-fatal and returned
// immediately; per-connection failures only ever tear down their own
// connection.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = l
	s.log.Info("listening", "addr", l.Addr().String())

	go s.maintenanceLoop(ctx)
	go func() {
		<-ctx.Done()
		s.closed.Store(true)
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.accepted.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// Close stops the listener; in-flight reader goroutines exit on their
// next deadline tick.
func (s *Server) Close() {
	s.closed.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
}

// Addr returns the bound listener address, useful when ListenAddr used
// port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnCount returns the number of tracked connections.
func (s *Server) ConnCount() int {
	return s.conns.Len()
}

// Connections returns a snapshot of the connection table.
func (s *Server) Connections() []Conn {
	return s.conns.Snapshot()
}

// handleConnection registers the connection and runs its read loop.
// Inbound bytes are copied out of the read buffer and submitted to the
// engine as video frames; the reader never blocks on pipeline work.
func (s *Server) handleConnection(ctx context.Context, nc net.Conn) {
	remote := nc.RemoteAddr().String()
	c := &Conn{
		ID:           uuid.NewString(),
		ClientID:     clientID(remote),
		RemoteAddr:   remote,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		netConn:      nc,
	}
	s.conns.Add(c)
	s.log.Info("connection accepted", "conn", c.ID, "remote", remote, "region", edge.RegionForAddr(remote))

	defer s.teardown(c.ID, "read loop exit")

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil || s.closed.Load() {
			return
		}
		nc.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := nc.Read(buf)
		if n > 0 {
			s.conns.Touch(c.ID)
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if serr := s.engine.ProcessVideoFrame(frame); serr != nil {
				s.log.Warn("frame submission failed", "conn", c.ID, "error", serr)
				return
			}
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue // transient: nothing to read this tick
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read error", "conn", c.ID, "error", err)
			}
			return
		}
	}
}

// teardown removes the connection from the table and releases the
// socket. Safe to call from both the read loop and the idle sweep.
func (s *Server) teardown(id, reason string) {
	c := s.conns.Remove(id)
	if c == nil {
		return
	}
	c.netConn.Close()
	s.log.Info("connection closed", "conn", id, "reason", reason)
}

// maintenanceLoop periodically sweeps idle connections and refreshes
// edge metrics until ctx is cancelled.
func (s *Server) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// runMaintenance performs one maintenance pass: closing connections
// idle past the inactivity timeout and folding host load into the local
// edge node's metrics.
func (s *Server) runMaintenance(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.InactivityTimeout)
	for _, id := range s.conns.IdleSince(cutoff) {
		s.swept.Add(1)
		s.teardown(id, "idle timeout")
	}

	snap := s.sysinfo.Collect(ctx)
	if s.cfg.LocalNodeID != "" {
		if !s.edges.UpdateLoad(s.cfg.LocalNodeID, snap.LoadScore()) {
			s.log.Debug("local edge node not registered", "id", s.cfg.LocalNodeID)
		}
	}
	s.log.Debug("maintenance pass",
		"connections", s.conns.Len(),
		"swept_total", s.swept.Load(),
		"cpu_pct", snap.CPUPercent,
		"mem_pct", snap.MemoryPercent,
	)
}

// clientID derives a stable-enough client identifier from the remote
// address plus process-local uniqueness.
func clientID(remote string) string {
	host, port, err := net.SplitHostPort(remote)
	if err != nil {
		host, port = remote, "0"
	}
	return fmt.Sprintf("%s-%s-%d", host, port, os.Getpid())
}
