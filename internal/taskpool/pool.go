package taskpool

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by Submit once the pool has been closed. Tasks
// are never thrown away silently: the caller is told the submission did
// not happen.
var ErrStopped = errors.New("taskpool: pool stopped")

// Pool runs submitted tasks on a fixed set of worker goroutines. Each
// worker owns one MPSC queue; a task executes exactly once, on whichever
// worker's queue accepted it. Ordering between independently submitted
// tasks is not guaranteed.
type Pool struct {
	log    *slog.Logger
	queues []*mpscQueue
	// stateMu fences Submit against Close: pushes happen under the read
	// side, the running flip under the write side, so no task can land
	// in a queue after the workers' final drain has begun.
	stateMu sync.RWMutex
	running atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	executed  atomic.Int64
	perWorker []atomic.Int64
}

// New creates and starts a Pool with n workers. n <= 0 selects one
// worker per available CPU. If log is nil, slog.Default() is used.
func New(n int, log *slog.Logger) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		log:       log.With("component", "taskpool"),
		queues:    make([]*mpscQueue, n),
		perWorker: make([]atomic.Int64, n),
	}
	for i := range p.queues {
		p.queues[i] = newMPSCQueue()
	}
	p.running.Store(true)

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	p.log.Debug("started", "workers", n)
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return len(p.queues)
}

// Submit hands task to the pool for asynchronous execution. Placement is
// power-of-two choices: two queues are sampled uniformly at random and
// the task goes to the one currently reporting lower occupancy. Returns
// ErrStopped after Close.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return errors.New("taskpool: nil task")
	}

	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if !p.running.Load() {
		return ErrStopped
	}

	idx := rand.IntN(len(p.queues))
	if len(p.queues) > 1 {
		alt := rand.IntN(len(p.queues))
		if p.queues[alt].Len() < p.queues[idx].Len() {
			idx = alt
		}
	}
	p.queues[idx].Push(task)
	p.submitted.Add(1)
	return nil
}

// worker pops continuously from its own queue, yielding the processor
// when the queue is momentarily empty rather than blocking. On shutdown
// it drains whatever its queue still holds, then exits.
func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	q := p.queues[idx]

	for p.running.Load() {
		if task := q.Pop(); task != nil {
			p.run(idx, task)
		} else {
			runtime.Gosched()
		}
	}

	for task := q.Pop(); task != nil; task = q.Pop() {
		p.run(idx, task)
	}
}

// run executes a task, containing panics so one bad task cannot take
// down its worker or the process.
func (p *Pool) run(idx int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r)
		}
	}()
	task()
	p.executed.Add(1)
	p.perWorker[idx].Add(1)
}

// Close stops accepting submissions, waits for workers to drain their
// queues, and returns. Safe to call more than once. The write lock
// waits out any in-flight Submit, so every task accepted before the
// flag flips is in a queue by the time the workers drain.
func (p *Pool) Close() {
	p.stateMu.Lock()
	flipped := p.running.CompareAndSwap(true, false)
	p.stateMu.Unlock()
	if !flipped {
		return
	}
	p.wg.Wait()
	p.log.Debug("stopped", "executed", p.executed.Load())
}

// Stats reports lifetime submission and execution counts.
func (p *Pool) Stats() (submitted, executed int64) {
	return p.submitted.Load(), p.executed.Load()
}

// PerWorkerExecuted returns how many tasks each worker has completed,
// indexed by worker. Used to observe placement balance.
func (p *Pool) PerWorkerExecuted() []int64 {
	out := make([]int64, len(p.perWorker))
	for i := range p.perWorker {
		out[i] = p.perWorker[i].Load()
	}
	return out
}
