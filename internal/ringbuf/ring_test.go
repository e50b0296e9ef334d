package ringbuf

import (
	"sync"
	"testing"
)

func TestPushPopFIFO(t *testing.T) {
	t.Parallel()

	r := New[int](4)
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d) failed below capacity", i)
		}
	}
	if r.Push(99) {
		t.Fatal("Push succeeded on full buffer")
	}
	for i := 0; i < 4; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop %d: buffer unexpectedly empty", i)
		}
		if got != i {
			t.Errorf("Pop %d: got %d, want %d (FIFO order)", i, got, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop succeeded on empty buffer")
	}
}

func TestPushEvictDropsOldest(t *testing.T) {
	t.Parallel()

	r := New[int](3)
	for i := 0; i < 3; i++ {
		r.Push(i)
	}

	evicted, wasFull := r.PushEvict(3)
	if !wasFull {
		t.Fatal("PushEvict on a full buffer reported no eviction")
	}
	if evicted != 0 {
		t.Errorf("evicted %d, want 0 (oldest)", evicted)
	}
	if n := r.Len(); n != 3 {
		t.Errorf("Len after evicting push: got %d, want 3", n)
	}

	for want := 1; want <= 3; want++ {
		got, ok := r.Pop()
		if !ok || got != want {
			t.Errorf("Pop: got %d (ok=%v), want %d", got, ok, want)
		}
	}
}

func TestPushEvictBelowCapacity(t *testing.T) {
	t.Parallel()

	r := New[int](3)
	if _, wasFull := r.PushEvict(7); wasFull {
		t.Error("PushEvict on a non-full buffer reported an eviction")
	}
	if got, ok := r.Pop(); !ok || got != 7 {
		t.Errorf("Pop: got %d (ok=%v), want 7", got, ok)
	}
}

func TestPushEvictConcurrentKeepsBound(t *testing.T) {
	t.Parallel()

	r := New[int](1)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.PushEvict(i)
				if n := r.Len(); n != 1 {
					t.Errorf("Len: got %d, want 1 (eviction and insert are one step)", n)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLenNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	r := New[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
				if n := r.Len(); n < 0 || n > r.Cap() {
					t.Errorf("Len: got %d, want within [0, %d]", n, r.Cap())
					return
				}
			}
		}()
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Pop()
			}
		}()
	}
	wg.Wait()
}

func TestPopEmptyAfterDrain(t *testing.T) {
	t.Parallel()

	r := New[string](2)
	r.Push("a")
	got, ok := r.Pop()
	if !ok || got != "a" {
		t.Fatalf("Pop: got %q, %v, want %q, true", got, ok, "a")
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop on drained buffer: got ok=true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len after drain: got %d, want 0", r.Len())
	}
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("New(0) did not panic")
		}
	}()
	New[int](0)
}
