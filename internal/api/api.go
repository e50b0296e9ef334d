// Package api exposes the admin and observability HTTP surface: edge
// node membership and metrics, connection and engine stats, stream
// routing queries, and the telemetry WebSocket endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fluxmedia/flux/internal/chunk"
	"github.com/fluxmedia/flux/internal/edge"
	"github.com/fluxmedia/flux/internal/engine"
	"github.com/fluxmedia/flux/internal/netsched"
	"github.com/fluxmedia/flux/internal/server"
	"github.com/fluxmedia/flux/internal/stream"
	"github.com/fluxmedia/flux/internal/telemetry"
)

// Config wires the API to its collaborators. Function fields keep the
// package decoupled from the concrete server type where a narrow
// snapshot is all that is needed.
type Config struct {
	Engine    *engine.Engine
	Edges     *edge.Registry
	Scheduler *netsched.Scheduler
	Telemetry *telemetry.Handler
	// Connections returns a snapshot of the live connection table.
	Connections func() []server.Conn
	// Streams returns a snapshot of active publisher streams.
	Streams func() []stream.Info
}

// Server is the HTTP API server.
type Server struct {
	log    *slog.Logger
	cfg    Config
	router *chi.Mux
	packer *chunk.Packetizer
}

// New creates the API server and its routes. If log is nil,
// slog.Default() is used.
func New(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:    log.With("component", "api"),
		cfg:    cfg,
		router: chi.NewRouter(),
		packer: chunk.NewPacketizer(cfg.Scheduler),
	}

	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/streams", s.handleStreams)
		r.Get("/connections", s.handleConnections)
		r.Get("/route", s.handleRoute)
		r.Route("/edge/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)
			r.Post("/", s.handleAddNode)
			r.Put("/{id}/metrics", s.handleUpdateMetrics)
			r.Delete("/{id}", s.handleRemoveNode)
		})
	})
	if cfg.Telemetry != nil {
		s.router.Handle("/ws/telemetry", cfg.Telemetry)
	}
	return s
}

// Handler returns the router for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// statsResponse aggregates engine throughput, scheduler state, and
// connection/telemetry gauges into one snapshot.
type statsResponse struct {
	Engine        engine.Stats `json:"engine"`
	BandwidthMbps float64      `json:"bandwidthMbps"`
	LatencyMs     float64      `json:"latencyMs"`
	BitrateKbps   int          `json:"bitrateKbps"`
	ChunkBytes    int          `json:"chunkBytes"`
	Connections   int          `json:"connections"`
	Telemetry     int64        `json:"telemetryClients"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Engine:        s.cfg.Engine.Stats(),
		BandwidthMbps: s.cfg.Scheduler.SmoothedBandwidth(),
		LatencyMs:     s.cfg.Scheduler.SmoothedLatency(),
		BitrateKbps:   s.cfg.Scheduler.OptimalBitrate(),
		ChunkBytes:    s.packer.ChunkSize(),
	}
	if s.cfg.Connections != nil {
		resp.Connections = len(s.cfg.Connections())
	}
	if s.cfg.Telemetry != nil {
		resp.Telemetry = s.cfg.Telemetry.Clients()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := []stream.Info{}
	if s.cfg.Streams != nil {
		streams = s.cfg.Streams()
	}
	s.writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	conns := []server.Conn{}
	if s.cfg.Connections != nil {
		conns = s.cfg.Connections()
	}
	s.writeJSON(w, http.StatusOK, conns)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Edges.List())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var n edge.Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid node body")
		return
	}
	if n.ID == "" || n.Capacity <= 0 {
		s.writeError(w, http.StatusBadRequest, "node requires id and positive capacity")
		return
	}
	s.cfg.Edges.Add(n)
	s.writeJSON(w, http.StatusCreated, n)
}

type metricsUpdate struct {
	Load      float64 `json:"load"`
	LatencyMs float64 `json:"latencyMs"`
}

func (s *Server) handleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var m metricsUpdate
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid metrics body")
		return
	}
	if !s.cfg.Edges.UpdateMetrics(id, m.Load, m.LatencyMs) {
		s.writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Edges.Remove(chi.URLParam(r, "id")) {
		s.writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type routeResponse struct {
	NodeID string `json:"nodeId"`
	Region string `json:"region"`
}

// handleRoute answers "which edge should this client stream from":
// ?client=addr and ?bandwidth=mbps select a node via the registry's
// stochastic scoring.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	if client == "" {
		client = r.RemoteAddr
	}
	bandwidth, err := strconv.ParseFloat(r.URL.Query().Get("bandwidth"), 64)
	if err != nil || bandwidth <= 0 {
		s.writeError(w, http.StatusBadRequest, "bandwidth must be a positive number")
		return
	}

	nodeID, ok := s.cfg.Edges.RouteStream(client, bandwidth)
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "no edge node qualifies")
		return
	}
	s.writeJSON(w, http.StatusOK, routeResponse{
		NodeID: nodeID,
		Region: edge.RegionForAddr(client),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
