package quic

import (
	"bytes"
	"crypto/tls"
	"io"
	"testing"

	"github.com/fluxmedia/flux/internal/stream"
)

type captureSink struct {
	frames [][]byte
}

func (c *captureSink) ProcessVideoFrame(data []byte) error {
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func TestNewServerRestrictsALPN(t *testing.T) {
	t.Parallel()

	orig := &tls.Config{NextProtos: []string{"h3", "something-else"}}
	s := NewServer(":4443", orig, &captureSink{}, nil, nil)

	if got := s.tls.NextProtos; len(got) != 1 || got[0] != ALPNProtocol {
		t.Errorf("server ALPN = %v, want [%s]", got, ALPNProtocol)
	}
	if got := orig.NextProtos; len(got) != 2 {
		t.Errorf("caller's TLS config was mutated: %v", got)
	}
}

func TestReadStreamForwardsPayloads(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	mgr := stream.NewManager(nil)
	s := NewServer(":4443", &tls.Config{}, sink, mgr, nil)

	st, _ := mgr.Create("quic/10.0.0.7:50000", "quic", "10.0.0.7:50000")
	payload := bytes.Repeat([]byte{0xAB}, 3000)
	s.readStream(io.NopCloser(bytes.NewReader(payload)), st, "10.0.0.7:50000")

	var total int
	for _, f := range sink.frames {
		total += len(f)
	}
	if total != len(payload) {
		t.Errorf("forwarded %d bytes, want %d", total, len(payload))
	}
	if got := s.BytesReceived(); got != int64(len(payload)) {
		t.Errorf("BytesReceived() = %d, want %d", got, len(payload))
	}

	infos := mgr.List()
	if len(infos) != 1 || infos[0].BytesReceived != int64(len(payload)) {
		t.Errorf("stream snapshot = %+v, want %d bytes recorded", infos, len(payload))
	}
}

// retainingSink keeps the exact slices it is handed, the way the engine
// does when frames sit in pipeline buffers.
type retainingSink struct {
	frames [][]byte
}

func (r *retainingSink) ProcessVideoFrame(data []byte) error {
	r.frames = append(r.frames, data)
	return nil
}

// chunkReader returns one predefined chunk per Read call.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func TestReadStreamFramesOwnTheirBytes(t *testing.T) {
	t.Parallel()

	sink := &retainingSink{}
	mgr := stream.NewManager(nil)
	s := NewServer(":4443", &tls.Config{}, sink, mgr, nil)
	st, _ := mgr.Create("quic/10.0.0.7:50000", "quic", "10.0.0.7:50000")

	first := bytes.Repeat([]byte{0xAA}, 1000)
	second := bytes.Repeat([]byte{0xBB}, 1000)
	s.readStream(io.NopCloser(&chunkReader{chunks: [][]byte{first, second}}), st, "10.0.0.7:50000")

	if len(sink.frames) != 2 {
		t.Fatalf("sink received %d frames, want 2", len(sink.frames))
	}
	if got := sink.frames[0][0]; got != 0xAA {
		t.Errorf("frame 0 was overwritten after submission: first byte = %#x, want 0xAA", got)
	}
	if got := sink.frames[1][0]; got != 0xBB {
		t.Errorf("frame 1 first byte = %#x, want 0xBB", got)
	}
}

func TestReadStreamStopsOnError(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	mgr := stream.NewManager(nil)
	s := NewServer(":4443", &tls.Config{}, sink, mgr, nil)

	st, _ := mgr.Create("quic/10.0.0.7:50000", "quic", "10.0.0.7:50000")
	s.readStream(io.NopCloser(errReader{}), st, "10.0.0.7:50000")
	if len(sink.frames) != 0 {
		t.Errorf("got %d frames from a failing stream, want 0", len(sink.frames))
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }
