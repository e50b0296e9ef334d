// Package edge tracks delivery edge nodes and routes client streams to
// them with capacity- and latency-aware stochastic selection.
package edge

import (
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
)

// DefaultRegion is assigned to clients whose address does not fall in a
// private range. Region derivation here is a coarse placeholder; a real
// deployment supplies a geolocation collaborator.
const DefaultRegion = "us-east"

// LocalRegion is assigned to clients on private or loopback addresses.
const LocalRegion = "local"

// Node is one delivery edge. Latency and CurrentLoad are mutated in
// place by periodic metric updates. Nodes are never removed
// automatically; Remove is an explicit administrative operation.
type Node struct {
	ID          string   `json:"id"`
	Address     string   `json:"address"`
	Region      string   `json:"region"`
	LatencyMs   float64  `json:"latencyMs"`
	Capacity    float64  `json:"capacity"`
	CurrentLoad float64  `json:"currentLoad"`
	Codecs      []string `json:"codecs,omitempty"`
}

// Registry is the edge-node collection, guarded by a single
// reader/writer lock: selection takes the read side, metric updates and
// membership changes the write side. Membership is supplied externally;
// the registry only scores and selects among known nodes.
type Registry struct {
	log   *slog.Logger
	mu    sync.RWMutex
	nodes map[string]*Node
	randF func() float64
}

// NewRegistry creates an empty Registry. If log is nil, slog.Default()
// is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log.With("component", "edge-registry"),
		nodes: make(map[string]*Node),
		randF: rand.Float64,
	}
}

// Add registers or replaces a node.
func (r *Registry) Add(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := n
	r.nodes[n.ID] = &copied
	r.log.Info("edge node added", "id", n.ID, "address", n.Address, "capacity", n.Capacity)
}

// Remove deletes a node. Administrative only; the streaming path never
// calls this. Returns false if the node was unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		return false
	}
	delete(r.nodes, id)
	r.log.Info("edge node removed", "id", id)
	return true
}

// UpdateMetrics overwrites a node's live load and latency. Returns false
// if the node is unknown.
func (r *Registry) UpdateMetrics(id string, load, latencyMs float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	n.CurrentLoad = load
	n.LatencyMs = latencyMs
	return true
}

// UpdateLoad overwrites only a node's load, leaving latency untouched.
// Used by the maintenance pass, which measures host pressure but not
// network latency.
func (r *Registry) UpdateLoad(id string, load float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	n.CurrentLoad = load
	return true
}

// List returns a snapshot of all nodes.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	return out
}

// Select picks a node for the given region and bandwidth requirement.
// Candidates are nodes whose spare capacity exceeds requiredBandwidth;
// each is scored 1/(latency+1) * spare and the winner is drawn at random
// with probability proportional to score. The stochastic draw spreads
// load instead of herding every client onto the single best node.
// Returns false when no node qualifies.
func (r *Registry) Select(region string, requiredBandwidth float64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		id    string
		score float64
	}
	var candidates []candidate
	total := 0.0
	for _, n := range r.nodes {
		spare := n.Capacity - n.CurrentLoad
		if spare <= requiredBandwidth {
			continue
		}
		score := 1.0 / (n.LatencyMs + 1) * spare
		candidates = append(candidates, candidate{id: n.ID, score: score})
		total += score
	}
	if len(candidates) == 0 {
		return "", false
	}

	draw := r.randF() * total
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += c.score
		if draw <= cumulative {
			return c.id, true
		}
	}
	return candidates[len(candidates)-1].id, true
}

// RouteStream derives a region from the client address and selects an
// edge for the requested bandwidth.
func (r *Registry) RouteStream(clientAddr string, requiredBandwidth float64) (string, bool) {
	return r.Select(RegionForAddr(clientAddr), requiredBandwidth)
}

// RegionForAddr maps a client address to a coarse region: private and
// loopback ranges are "local", everything else the default region.
func RegionForAddr(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return DefaultRegion
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return LocalRegion
	}
	return DefaultRegion
}
