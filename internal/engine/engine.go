// Package engine couples the task-distribution pool, the network
// scheduler, and the video/audio processing pipelines into one media
// engine. Frame submission is asynchronous: callers hand bytes to the
// pool and never block on pipeline completion.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fluxmedia/flux/internal/chunk"
	"github.com/fluxmedia/flux/internal/netsched"
	"github.com/fluxmedia/flux/internal/pipeline"
	"github.com/fluxmedia/flux/internal/taskpool"
)

// PacketSink receives the packetized form of every frame that clears
// the video pipeline. Implementations must not retain the packet slice
// past the call.
type PacketSink interface {
	DeliverPackets(packets []chunk.Packet)
}

// Config tunes the engine. Zero values select the defaults below.
type Config struct {
	// Workers is the task-pool size; 0 means one per CPU.
	Workers int
	// VideoCapacities are the per-stage buffer capacities for the video
	// pipeline (analyze, adaptive, enhance).
	VideoCapacities [3]int
	// AudioCapacities are the per-stage buffer capacities for the audio
	// pipeline (process, noise-reduce).
	AudioCapacities [2]int
}

// Default stage capacities. Video narrows toward the end so enhancement,
// the most expensive stage, is the one that exerts backpressure first.
var (
	defaultVideoCapacities = [3]int{5, 3, 2}
	defaultAudioCapacities = [2]int{8, 4}
)

// Stats is a point-in-time snapshot of engine throughput.
type Stats struct {
	VideoSubmitted int64 `json:"videoSubmitted"`
	AudioSubmitted int64 `json:"audioSubmitted"`
	VideoCompleted int64 `json:"videoCompleted"`
	AudioCompleted int64 `json:"audioCompleted"`
	Rejected       int64 `json:"rejected"`
	PacketsEmitted int64 `json:"packetsEmitted"`
	TargetBufferMs int64 `json:"targetBufferMs"`
	BitrateKbps    int   `json:"bitrateKbps"`
	VideoDepths    []int `json:"videoDepths"`
	AudioDepths    []int `json:"audioDepths"`
}

// Engine processes inbound media frames. Two pipelines run per engine:
// video (analyze, adaptive, enhance) and audio (process, noise-reduce).
// The stage processors here sequence the work and consult the scheduler;
// actual codec work happens in adjacent systems, not in this engine.
type Engine struct {
	log    *slog.Logger
	pool   *taskpool.Pool
	sched  *netsched.Scheduler
	video  *pipeline.Pipeline
	audio  *pipeline.Pipeline
	packer *chunk.Packetizer
	sink   PacketSink

	videoSubmitted atomic.Int64
	audioSubmitted atomic.Int64
	rejected       atomic.Int64
	targetBitrate  atomic.Int64
	packetsEmitted atomic.Int64
}

// New creates an Engine driven by the given scheduler. If sched is nil a
// private one is created; if log is nil, slog.Default() is used.
func New(cfg Config, sched *netsched.Scheduler, log *slog.Logger) (*Engine, error) {
	if sched == nil {
		sched = netsched.New(netsched.DefaultAlpha)
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.VideoCapacities == [3]int{} {
		cfg.VideoCapacities = defaultVideoCapacities
	}
	if cfg.AudioCapacities == [2]int{} {
		cfg.AudioCapacities = defaultAudioCapacities
	}

	e := &Engine{
		log:    log.With("component", "engine"),
		sched:  sched,
		packer: chunk.NewPacketizer(sched),
	}

	video, err := pipeline.New("video", []pipeline.StageConfig{
		{Name: "analyze", Capacity: cfg.VideoCapacities[0], Fn: e.analyzeVideo},
		{Name: "adaptive", Capacity: cfg.VideoCapacities[1], Fn: e.adaptVideo},
		{Name: "enhance", Capacity: cfg.VideoCapacities[2], Fn: e.enhanceVideo},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("video pipeline: %w", err)
	}
	audio, err := pipeline.New("audio", []pipeline.StageConfig{
		{Name: "process", Capacity: cfg.AudioCapacities[0], Fn: e.processAudio},
		{Name: "noise-reduce", Capacity: cfg.AudioCapacities[1], Fn: e.reduceNoise},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("audio pipeline: %w", err)
	}

	e.video = video
	e.audio = audio
	e.pool = taskpool.New(cfg.Workers, log)
	return e, nil
}

// Run starts both pipelines. They stop when ctx is cancelled or Close is
// called.
func (e *Engine) Run(ctx context.Context) {
	e.video.Run(ctx)
	e.audio.Run(ctx)
}

// Close stops the pipelines and shuts down the task pool, draining tasks
// already accepted.
func (e *Engine) Close() {
	e.pool.Close()
	e.video.Stop()
	e.audio.Stop()
}

// ProcessVideoFrame submits a raw video frame for asynchronous pipeline
// processing. The only error surfaced here is submission failure after
// shutdown; pipeline saturation is counted and logged on the worker side
// rather than propagated across the task boundary.
func (e *Engine) ProcessVideoFrame(data []byte) error {
	err := e.pool.Submit(func() { e.ingest(e.video, data) })
	if err != nil {
		return fmt.Errorf("video frame: %w", err)
	}
	e.videoSubmitted.Add(1)
	return nil
}

// ProcessAudioFrame submits a raw audio frame for asynchronous pipeline
// processing.
func (e *Engine) ProcessAudioFrame(data []byte) error {
	err := e.pool.Submit(func() { e.ingest(e.audio, data) })
	if err != nil {
		return fmt.Errorf("audio frame: %w", err)
	}
	e.audioSubmitted.Add(1)
	return nil
}

// ingest runs on a pool worker: it enters the frame at stage 0 and
// records a rejection when the pipeline is saturated. The frame is not
// retried; upstream telemetry drives the bitrate down instead.
func (e *Engine) ingest(p *pipeline.Pipeline, data []byte) {
	if err := p.Process(data); err != nil {
		e.rejected.Add(1)
		e.log.Debug("frame rejected", "pipeline", p.Name(), "error", err)
	}
}

// Scheduler returns the network scheduler driving this engine.
func (e *Engine) Scheduler() *netsched.Scheduler {
	return e.sched
}

// Stats returns a snapshot of engine throughput and the current adaptive
// targets.
func (e *Engine) Stats() Stats {
	_, videoDone := e.video.Stats()
	_, audioDone := e.audio.Stats()
	return Stats{
		VideoSubmitted: e.videoSubmitted.Load(),
		AudioSubmitted: e.audioSubmitted.Load(),
		VideoCompleted: videoDone,
		AudioCompleted: audioDone,
		Rejected:       e.rejected.Load(),
		PacketsEmitted: e.packetsEmitted.Load(),
		TargetBufferMs: e.sched.TargetBufferMs(),
		BitrateKbps:    e.sched.OptimalBitrate(),
		VideoDepths:    e.video.Depths(),
		AudioDepths:    e.audio.Depths(),
	}
}

// analyzeVideo is the inspection stage hook. Frame analysis (complexity,
// scene cuts) belongs to adjacent systems; the stage exists to sequence
// that work and keep per-stage buffering measurable.
func (e *Engine) analyzeVideo(data []byte) []byte {
	return data
}

// adaptVideo consults the scheduler and records the bitrate target the
// downstream encoder should honor for this frame.
func (e *Engine) adaptVideo(data []byte) []byte {
	e.targetBitrate.Store(int64(e.sched.OptimalBitrate()))
	return data
}

// enhanceVideo is the quality-enhancement stage hook. As the last video
// stage it also packetizes the outgoing frame: chunk sizes track the
// scheduler's current estimates, and the packets go to the configured
// sink, or are counted and discarded when none is set.
func (e *Engine) enhanceVideo(data []byte) []byte {
	packets := e.packer.Packetize(data, 0)
	e.packetsEmitted.Add(int64(len(packets)))
	if e.sink != nil {
		e.sink.DeliverPackets(packets)
	}
	return data
}

// SetPacketSink installs the delivery sink for packetized video frames.
// Must be called before Run.
func (e *Engine) SetPacketSink(s PacketSink) {
	e.sink = s
}

// processAudio is the audio conditioning stage hook.
func (e *Engine) processAudio(data []byte) []byte {
	return data
}

// reduceNoise is the noise-reduction stage hook.
func (e *Engine) reduceNoise(data []byte) []byte {
	return data
}

// TargetBitrateKbps reports the bitrate most recently applied by the
// adaptive video stage.
func (e *Engine) TargetBitrateKbps() int {
	return int(e.targetBitrate.Load())
}
