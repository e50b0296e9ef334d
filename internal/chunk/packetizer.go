package chunk

import (
	"time"

	"github.com/fluxmedia/flux/internal/netsched"
)

// Chunk size bounds in bytes. Adaptive sizing clamps into this range no
// matter how extreme the measured latency or bandwidth is.
const (
	MinChunkBytes = 1024
	MaxChunkBytes = 65536
)

// Chunk duration bounds in milliseconds for the latency-derived window.
const (
	minChunkDurationMs = 100
	maxChunkDurationMs = 2000
)

// Packet is one schedulable unit of a media payload, derived
// deterministically from its chunk. Priority is positional: periodic
// keyframe-equivalent chunks are boosted. Real frame-type classification
// is an external input this layer does not attempt to infer; the
// positional heuristic stands in until the encoder supplies frame types.
type Packet struct {
	StreamID  uint32
	ChunkID   uint32
	Sequence  uint32
	Timestamp uint64
	Payload   []byte
	Priority  uint8
}

// Positional priorities: every 100th chunk is treated as keyframe-like,
// every 10th as a reference frame, the rest as disposable.
const (
	priorityKey       = 255
	priorityReference = 200
	priorityNormal    = 100
)

// Packetizer splits media payloads into packets whose chunk size adapts
// to the scheduler's current bandwidth and latency estimates.
type Packetizer struct {
	sched *netsched.Scheduler
	now   func() time.Time
}

// NewPacketizer creates a Packetizer driven by the given scheduler.
func NewPacketizer(sched *netsched.Scheduler) *Packetizer {
	return &Packetizer{sched: sched, now: time.Now}
}

// ChunkSize returns the current adaptive chunk size in bytes: the payload
// a chunk-duration window of clamp(latency*2, 100ms, 2s) carries at the
// smoothed bandwidth, clamped to [MinChunkBytes, MaxChunkBytes].
func (p *Packetizer) ChunkSize() int {
	latency := p.sched.SmoothedLatency()
	bandwidthKbps := p.sched.SmoothedBandwidth() * 1000

	durationMs := latency * 2
	if durationMs < minChunkDurationMs {
		durationMs = minChunkDurationMs
	}
	if durationMs > maxChunkDurationMs {
		durationMs = maxChunkDurationMs
	}

	size := int(bandwidthKbps * durationMs / 8)
	if size < MinChunkBytes {
		return MinChunkBytes
	}
	if size > MaxChunkBytes {
		return MaxChunkBytes
	}
	return size
}

// Packetize splits payload into packets for streamID. Chunk byte sizes
// sum exactly to len(payload), with only the final chunk possibly short.
// Packets are returned in transmission order with sequence numbers
// assigned consecutively from zero.
func (p *Packetizer) Packetize(payload []byte, streamID uint32) []Packet {
	if len(payload) == 0 {
		return nil
	}

	chunkSize := p.ChunkSize()
	ts := uint64(p.now().UnixMicro())
	packets := make([]Packet, 0, (len(payload)+chunkSize-1)/chunkSize)

	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunkID := uint32(off / chunkSize)
		packets = append(packets, Packet{
			StreamID:  streamID,
			ChunkID:   chunkID,
			Sequence:  uint32(len(packets)),
			Timestamp: ts,
			Payload:   payload[off:end:end],
			Priority:  positionalPriority(chunkID),
		})
	}
	return packets
}

func positionalPriority(chunkID uint32) uint8 {
	switch {
	case chunkID%100 == 0:
		return priorityKey
	case chunkID%10 == 0:
		return priorityReference
	default:
		return priorityNormal
	}
}
