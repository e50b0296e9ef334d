package srt

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/fluxmedia/flux/internal/stream"
)

type captureSink struct {
	frames [][]byte
	reject error
}

func (c *captureSink) ProcessVideoFrame(data []byte) error {
	if c.reject != nil {
		return c.reject
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
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

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "bare key", streamID: "studio-a", want: "studio-a"},
		{name: "leading slash", streamID: "/studio-a", want: "studio-a"},
		{name: "live prefix", streamID: "live/studio-a", want: "studio-a"},
		{name: "slash and live prefix", streamID: "/live/studio-a", want: "studio-a"},
		{name: "empty falls back", streamID: "", want: "default"},
		{name: "bare slash falls back", streamID: "/", want: "default"},
		{name: "bare live prefix falls back", streamID: "live/", want: "default"},
		{name: "nested path kept", streamID: "venue/studio-a", want: "venue/studio-a"},
		{name: "live inside name kept", streamID: "liveshow", want: "liveshow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractStreamKey(tc.streamID)
			if got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	t.Parallel()

	s := NewServer(":6000", &captureSink{}, nil, nil)
	if s.log == nil {
		t.Fatal("expected a fallback logger")
	}
	if s.streams == nil {
		t.Fatal("expected a fallback stream manager")
	}
	if got := s.BytesReceived(); got != 0 {
		t.Errorf("fresh server reports %d bytes, want 0", got)
	}
}

func TestReadLoopFramesOwnTheirBytes(t *testing.T) {
	t.Parallel()

	sink := &retainingSink{}
	mgr := stream.NewManager(nil)
	s := NewServer(":6000", sink, mgr, nil)
	st, _ := mgr.Create("studio-a", "srt", "10.0.0.4:31000")

	first := bytes.Repeat([]byte{0xAA}, 1000)
	second := bytes.Repeat([]byte{0xBB}, 1000)
	s.readLoop(context.Background(), &chunkReader{chunks: [][]byte{first, second}}, st, "studio-a")

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

func TestSharedStreamManager(t *testing.T) {
	t.Parallel()

	mgr := stream.NewManager(nil)
	s := NewServer(":6000", &captureSink{}, mgr, nil)

	if s.streams != mgr {
		t.Fatal("server should use the supplied stream manager")
	}
	mgr.Create("studio-a", "srt", "10.0.0.4:31000")
	if got := mgr.Len(); got != 1 {
		t.Errorf("manager tracks %d streams, want 1", got)
	}
}
