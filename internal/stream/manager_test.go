package stream

import (
	"testing"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("studio-a", "srt", "10.0.0.4:31000")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s == nil {
		t.Fatal("Create returned nil")
	}
	if s.Key != "studio-a" {
		t.Errorf("key: got %q, want %q", s.Key, "studio-a")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	if got := m.Get("studio-a"); got != s {
		t.Error("Get should return the created stream")
	}
	if got := m.Get("other"); got != nil {
		t.Errorf("Get for unknown key returned %v, want nil", got)
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, ok1 := m.Create("test", "srt", "")
	if !ok1 {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("test", "quic", "")

	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil stream")
	}
}

func TestManagerRemoveClosesDone(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test", "srt", "")
	if m.Len() != 1 {
		t.Errorf("count: got %d, want 1", m.Len())
	}

	m.Remove("test")
	if m.Len() != 0 {
		t.Errorf("count after remove: got %d, want 0", m.Len())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done channel should be closed after Remove")
	}
}

func TestManagerListCounters(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("stream-a", "quic", "10.0.0.9:9000")
	m.Create("stream-b", "srt", "")
	s.AddBytes(1316)
	s.AddBytes(1316)
	s.AddFrame()

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(infos))
	}

	byKey := make(map[string]Info)
	for _, info := range infos {
		byKey[info.Key] = info
	}
	a, ok := byKey["stream-a"]
	if !ok {
		t.Fatal("missing stream-a")
	}
	if a.BytesReceived != 2632 {
		t.Errorf("bytes: got %d, want 2632", a.BytesReceived)
	}
	if a.Frames != 1 {
		t.Errorf("frames: got %d, want 1", a.Frames)
	}
	if a.Source != "quic" {
		t.Errorf("source: got %q, want %q", a.Source, "quic")
	}
}

func TestManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	// Should not panic
	m.Remove("nonexistent")
}
