package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmedia/flux/internal/chunk"
	"github.com/fluxmedia/flux/internal/edge"
	"github.com/fluxmedia/flux/internal/engine"
	"github.com/fluxmedia/flux/internal/netsched"
	"github.com/fluxmedia/flux/internal/server"
	"github.com/fluxmedia/flux/internal/stream"
)

func newTestServer(t *testing.T) (*Server, *edge.Registry, *netsched.Scheduler) {
	t.Helper()

	sched := netsched.New(netsched.DefaultAlpha)
	eng, err := engine.New(engine.Config{}, sched, nil)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	edges := edge.NewRegistry(nil)
	srv := New(Config{
		Engine:    eng,
		Edges:     edges,
		Scheduler: sched,
		Connections: func() []server.Conn {
			return []server.Conn{{ID: "c1", RemoteAddr: "10.0.0.9:5000"}}
		},
		Streams: func() []stream.Info {
			return []stream.Info{{Key: "studio-a", Source: "srt", BytesReceived: 2632}}
		},
	}, nil)
	return srv, edges, sched
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStats(t *testing.T) {
	srv, _, sched := newTestServer(t)

	sched.Record(netsched.Sample{BandwidthMbps: 10, LatencyMs: 20})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Positive(t, resp.BandwidthMbps)
	assert.Positive(t, resp.BitrateKbps)
	assert.GreaterOrEqual(t, resp.ChunkBytes, chunk.MinChunkBytes)
	assert.Equal(t, 1, resp.Connections)
}

func TestStreams(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/streams", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var streams []stream.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &streams))
	require.Len(t, streams, 1)
	assert.Equal(t, "studio-a", streams[0].Key)
	assert.Equal(t, int64(2632), streams[0].BytesReceived)
}

func TestConnections(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/connections", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var conns []server.Conn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, "c1", conns[0].ID)
}

func TestNodeLifecycle(t *testing.T) {
	srv, edges, _ := newTestServer(t)
	h := srv.Handler()

	node := edge.Node{ID: "edge-1", Address: "edge1.example.com:443", Region: "us-east", Capacity: 100, LatencyMs: 5}
	rec := doJSON(t, h, http.MethodPost, "/api/edge/nodes", node)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/edge/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []edge.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)

	rec = doJSON(t, h, http.MethodPut, "/api/edge/nodes/edge-1/metrics", metricsUpdate{Load: 40, LatencyMs: 12})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got := edges.List()
	require.Len(t, got, 1)
	assert.Equal(t, 40.0, got[0].CurrentLoad)
	assert.Equal(t, 12.0, got[0].LatencyMs)

	rec = doJSON(t, h, http.MethodDelete, "/api/edge/nodes/edge-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, edges.List())
}

func TestNodeValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/edge/nodes", edge.Node{Address: "x:1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/api/edge/nodes/missing/metrics", metricsUpdate{Load: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/edge/nodes/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoute(t *testing.T) {
	srv, edges, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/route?client=192.168.1.5:9000&bandwidth=10", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	edges.Add(edge.Node{ID: "edge-local", Region: edge.LocalRegion, Capacity: 100, LatencyMs: 3})

	rec = doJSON(t, h, http.MethodGet, "/api/route?client=192.168.1.5:9000&bandwidth=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp routeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "edge-local", resp.NodeID)
	assert.Equal(t, edge.LocalRegion, resp.Region)

	rec = doJSON(t, h, http.MethodGet, "/api/route?client=192.168.1.5:9000&bandwidth=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
