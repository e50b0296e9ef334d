// Package srt accepts SRT publish connections and feeds received frames
// into the processing engine.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	srtgo "github.com/zsiec/srtgo"

	"github.com/fluxmedia/flux/internal/stream"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// FrameSink consumes payloads read from publishers.
type FrameSink interface {
	ProcessVideoFrame(data []byte) error
}

// Server accepts incoming SRT publish connections, registers them with
// the stream manager, and forwards their payloads to the frame sink.
type Server struct {
	log     *slog.Logger
	addr    string
	sink    FrameSink
	streams *stream.Manager

	bytesReceived atomic.Int64
	framesForward atomic.Int64
}

// NewServer creates an SRT server that listens on addr, forwards
// incoming payloads to sink, and tracks publishers in streams. If log
// is nil, slog.Default() is used.
func NewServer(addr string, sink FrameSink, streams *stream.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if streams == nil {
		streams = stream.NewManager(log)
	}
	return &Server{
		log:     log.With("component", "srt-server"),
		addr:    addr,
		sink:    sink,
		streams: streams,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		streamKey := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", streamKey, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, streamKey)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, streamKey string) {
	defer conn.Close()

	st, ok := s.streams.Create(streamKey, "srt", conn.RemoteAddr().String())
	if !ok {
		s.log.Warn("rejecting duplicate publisher", "stream_key", streamKey)
		return
	}
	defer s.streams.Remove(streamKey)

	s.readLoop(ctx, conn, st, streamKey)
}

// readLoop reads publisher payloads until error or cancellation. The
// sink holds each frame beyond the iteration that read it; buf is
// reused on the next read, so every frame must own its bytes.
func (s *Server) readLoop(ctx context.Context, r io.Reader, st *stream.Stream, streamKey string) {
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := r.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "stream_key", streamKey, "error", err)
			}
			return
		}
		st.AddBytes(n)
		s.bytesReceived.Add(int64(n))
		frame := make([]byte, n)
		copy(frame, buf[:n])
		if err := s.sink.ProcessVideoFrame(frame); err != nil {
			s.log.Debug("frame rejected", "stream_key", streamKey, "error", err)
			continue
		}
		st.AddFrame()
		s.framesForward.Add(1)
	}
}

// BytesReceived returns the total bytes read from all publishers.
func (s *Server) BytesReceived() int64 { return s.bytesReceived.Load() }

// FramesForwarded returns the count of payloads accepted by the sink.
func (s *Server) FramesForwarded() int64 { return s.framesForward.Load() }

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
