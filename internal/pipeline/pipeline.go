// Package pipeline runs frames through an ordered chain of processing
// stages, each gated by its own bounded buffer. A full downstream stage
// stalls upstream advancement instead of dropping data or queueing
// without bound.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxmedia/flux/internal/ringbuf"
)

// ErrFull is returned by Process when the first stage's buffer has no
// capacity. The caller keeps the frame and decides what to do with it;
// the pipeline never drops silently.
var ErrFull = errors.New("pipeline: stage buffer full")

// ErrNotRunning is returned by Process before Run has started the stage
// goroutines or after the pipeline has been stopped.
var ErrNotRunning = errors.New("pipeline: not running")

// idleWait is how long a stage sleeps when its input buffer is empty or
// its downstream is saturated. Short enough to keep stall latency low,
// long enough not to burn a core per idle stage.
const idleWait = 500 * time.Microsecond

// ProcessFunc transforms a frame in place or returns a replacement
// buffer to forward downstream.
type ProcessFunc func(data []byte) []byte

// StageConfig describes one stage: a name for logging, the bounded
// buffer capacity gating entry to the stage, and the processing function.
type StageConfig struct {
	Name     string
	Capacity int
	Fn       ProcessFunc
}

type stage struct {
	name string
	fn   ProcessFunc
	buf  *ringbuf.Ring[[]byte]
}

// Pipeline is an ordered list of stages. Frames enter at stage 0 via
// Process and advance strictly in order; ordering within the pipeline is
// FIFO per stage buffer.
type Pipeline struct {
	log    *slog.Logger
	name   string
	stages []*stage

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statMu    sync.Mutex
	entered   int64
	completed int64
}

// New builds a pipeline from the given stage configs. At least one stage
// is required. If log is nil, slog.Default() is used.
func New(name string, cfgs []StageConfig, log *slog.Logger) (*Pipeline, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("pipeline %s: no stages", name)
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		log:  log.With("component", "pipeline", "pipeline", name),
		name: name,
	}
	for _, cfg := range cfgs {
		if cfg.Capacity <= 0 {
			return nil, fmt.Errorf("pipeline %s: stage %s: capacity must be positive", name, cfg.Name)
		}
		if cfg.Fn == nil {
			return nil, fmt.Errorf("pipeline %s: stage %s: nil processor", name, cfg.Name)
		}
		p.stages = append(p.stages, &stage{
			name: cfg.Name,
			fn:   cfg.Fn,
			buf:  ringbuf.New[[]byte](cfg.Capacity),
		})
	}
	return p, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Run starts one goroutine per stage and returns. The stages stop when
// ctx is cancelled or Stop is called; frames still buffered past stage 0
// are abandoned on shutdown (coarse-grained cancellation only).
func (p *Pipeline) Run(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := range p.stages {
		p.wg.Add(1)
		go p.runStage(ctx, i)
	}
	p.log.Debug("started", "stages", len(p.stages))
}

// Stop cancels the stage goroutines and waits for them to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.log.Debug("stopped")
}

// Process enters data at stage 0. Fire-and-forget: the caller never
// blocks on completion. Returns ErrFull when stage 0 has no capacity and
// ErrNotRunning when the pipeline is stopped; in both cases the caller
// retains the frame.
func (p *Pipeline) Process(data []byte) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	if !p.stages[0].buf.Push(data) {
		return ErrFull
	}
	p.statMu.Lock()
	p.entered++
	p.statMu.Unlock()
	return nil
}

// runStage is the per-stage loop: pop one frame, run the processor, then
// hand the result to the next stage, waiting while the downstream buffer
// is full. The wait is what propagates backpressure upstream: while a
// stage holds a processed frame it cannot pop its own buffer, so its
// producers start seeing a full buffer in turn.
func (p *Pipeline) runStage(ctx context.Context, idx int) {
	defer p.wg.Done()
	s := p.stages[idx]

	for {
		data, ok := s.buf.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleWait):
			}
			continue
		}

		out := s.fn(data)
		if out == nil {
			out = data
		}

		if idx+1 < len(p.stages) {
			next := p.stages[idx+1]
			for !next.buf.Push(out) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(idleWait):
				}
			}
		} else {
			p.statMu.Lock()
			p.completed++
			p.statMu.Unlock()
		}
	}
}

// Depths returns the current occupancy of each stage buffer, in order.
func (p *Pipeline) Depths() []int {
	depths := make([]int, len(p.stages))
	for i, s := range p.stages {
		depths[i] = s.buf.Len()
	}
	return depths
}

// Stats reports how many frames have entered stage 0 and how many have
// completed the final stage.
func (p *Pipeline) Stats() (entered, completed int64) {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	return p.entered, p.completed
}
