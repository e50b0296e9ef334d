// Package quic accepts QUIC publish connections. Each stream opened by
// a publisher carries raw frame payloads that are forwarded to the
// processing engine.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fluxmedia/flux/internal/stream"
)

// ALPNProtocol is the Application-Layer Protocol Negotiation identifier
// for the ingest listener.
const ALPNProtocol = "flux-ingest"

const readBufferSize = 64 * 1024

// FrameSink consumes payloads read from publishers.
type FrameSink interface {
	ProcessVideoFrame(data []byte) error
}

// Server accepts QUIC publisher connections on a UDP address.
type Server struct {
	log     *slog.Logger
	addr    string
	tls     *tls.Config
	sink    FrameSink
	streams *stream.Manager

	connections   atomic.Int64
	bytesReceived atomic.Int64
}

// NewServer creates a QUIC ingest server. The TLS config is cloned and
// restricted to the ingest ALPN. If log is nil, slog.Default() is used.
func NewServer(addr string, tlsConf *tls.Config, sink FrameSink, streams *stream.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if streams == nil {
		streams = stream.NewManager(log)
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{ALPNProtocol}
	return &Server{
		log:     log.With("component", "quic-server"),
		addr:    addr,
		tls:     tlsConf,
		sink:    sink,
		streams: streams,
	}
}

func serverQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    10 * time.Second,
		MaxIdleTimeout:     30 * time.Second,
		MaxIncomingStreams: 100,
	}
}

// Start begins accepting publisher connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := quic.ListenAddr(s.addr, s.tls, serverQUICConfig())
	if err != nil {
		return fmt.Errorf("QUIC listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.connections.Add(1)
		s.log.Info("publisher connected", "remote", conn.RemoteAddr())
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) {
	defer s.connections.Add(-1)

	remote := conn.RemoteAddr().String()
	key := "quic/" + remote
	st, ok := s.streams.Create(key, "quic", remote)
	if !ok {
		s.log.Warn("rejecting duplicate publisher", "remote", remote)
		conn.CloseWithError(0, "duplicate publisher")
		return
	}
	defer s.streams.Remove(key)

	for {
		qs, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("connection closed", "remote", remote, "error", err)
			}
			return
		}
		go s.readStream(qs, st, remote)
	}
}

func (s *Server) readStream(r io.ReadCloser, st *stream.Stream, remote string) {
	defer r.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			st.AddBytes(n)
			s.bytesReceived.Add(int64(n))
			// The sink holds the frame beyond this iteration; buf is
			// reused on the next read, so the frame must own its bytes.
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if serr := s.sink.ProcessVideoFrame(frame); serr != nil {
				s.log.Debug("frame rejected", "remote", remote, "error", serr)
			} else {
				st.AddFrame()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("stream read error", "remote", remote, "error", err)
			}
			return
		}
	}
}

// Connections returns the number of live publisher connections.
func (s *Server) Connections() int64 { return s.connections.Load() }

// BytesReceived returns the total bytes read across all streams.
func (s *Server) BytesReceived() int64 { return s.bytesReceived.Load() }
