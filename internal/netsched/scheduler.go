// Package netsched turns noisy per-tick network telemetry into smoothed
// bandwidth and latency estimates and derives the adaptive bitrate and
// jitter-aware buffer targets that the media pipelines consult.
package netsched

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/fluxmedia/flux/internal/ringbuf"
)

// Bitrate bounds in kbps. Selections are always clamped into this range
// regardless of how extreme the measured conditions are.
const (
	MinBitrateKbps = 300
	MaxBitrateKbps = 20000
)

// DefaultAlpha is the EWMA smoothing factor: higher reacts faster to new
// samples, lower damps oscillation.
const DefaultAlpha = 0.2

// historySize bounds the retained raw-sample history; the oldest sample
// is evicted once the window is full.
const historySize = 100

// Sample is one network measurement tick. Immutable once recorded.
type Sample struct {
	BandwidthMbps float64   `json:"bandwidth_mbps"`
	LatencyMs     float64   `json:"latency_ms"`
	PacketLossPct float64   `json:"packet_loss_pct"`
	JitterMs      float64   `json:"jitter_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Scheduler maintains exponentially smoothed network state. Smoothed
// values are stored as atomic float bits so readers never block writers;
// bandwidth and latency are updated independently (readers may observe
// one tick of skew between the two, which is accepted).
type Scheduler struct {
	alpha float64

	smoothedBandwidth atomic.Uint64 // float64 bits, Mbps
	smoothedLatency   atomic.Uint64 // float64 bits, ms
	smoothedJitter    atomic.Uint64 // float64 bits, ms

	history *ringbuf.Ring[Sample]
}

// New creates a Scheduler with the given EWMA smoothing factor. Alpha
// outside (0, 1] falls back to DefaultAlpha.
func New(alpha float64) *Scheduler {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Scheduler{
		alpha:   alpha,
		history: ringbuf.New[Sample](historySize),
	}
}

// Record folds a sample into the smoothed estimates and appends it to the
// bounded history, evicting the oldest entry when full. Negative or
// non-finite inputs are treated as zero so the smoothed state stays a
// non-negative finite number.
func (s *Scheduler) Record(sample Sample) {
	s.ewma(&s.smoothedBandwidth, sanitize(sample.BandwidthMbps))
	s.ewma(&s.smoothedLatency, sanitize(sample.LatencyMs))
	s.ewma(&s.smoothedJitter, sanitize(sample.JitterMs))

	s.history.PushEvict(sample)
}

// ewma performs new = alpha*sample + (1-alpha)*old with a CAS loop so
// concurrent recorders never lose an update.
func (s *Scheduler) ewma(cell *atomic.Uint64, sample float64) {
	for {
		oldBits := cell.Load()
		old := math.Float64frombits(oldBits)
		next := s.alpha*sample + (1-s.alpha)*old
		if cell.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// SmoothedBandwidth returns the EWMA bandwidth estimate in Mbps.
func (s *Scheduler) SmoothedBandwidth() float64 {
	return math.Float64frombits(s.smoothedBandwidth.Load())
}

// SmoothedLatency returns the EWMA latency estimate in milliseconds.
func (s *Scheduler) SmoothedLatency() float64 {
	return math.Float64frombits(s.smoothedLatency.Load())
}

// SmoothedJitter returns the EWMA jitter estimate in milliseconds.
func (s *Scheduler) SmoothedJitter() float64 {
	return math.Float64frombits(s.smoothedJitter.Load())
}

// OptimalBitrate computes the latency-aware bitrate target in kbps.
// High latency shrinks the safety factor down to a floor of 0.7; the
// result is then derated by 0.8 and clamped to [MinBitrateKbps,
// MaxBitrateKbps]. Purely reactive: callers must tolerate oscillation
// under noisy input beyond what the EWMA damps.
func (s *Scheduler) OptimalBitrate() int {
	bandwidthKbps := s.SmoothedBandwidth() * 1000
	latency := s.SmoothedLatency()

	safety := math.Max(0.7, 1.0-latency/100.0)
	bitrate := int(bandwidthKbps * safety * 0.8)

	if bitrate < MinBitrateKbps {
		return MinBitrateKbps
	}
	if bitrate > MaxBitrateKbps {
		return MaxBitrateKbps
	}
	return bitrate
}

// TargetBufferMs returns the jitter-adaptive buffering target the
// pipeline stages use as advisory guidance. Recomputed from the current
// smoothed state on every call rather than cached.
func (s *Scheduler) TargetBufferMs() int64 {
	return int64(s.SmoothedLatency() + s.SmoothedJitter()*3 + 100)
}

// HistoryLen reports how many raw samples are currently retained.
func (s *Scheduler) HistoryLen() int {
	return s.history.Len()
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
