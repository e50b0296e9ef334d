// Package telemetry accepts client network measurements over WebSocket
// and feeds them to the network scheduler. Clients report bandwidth,
// latency, loss, and jitter per tick; the upgraded socket is read-only
// from the server's perspective.
package telemetry

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxmedia/flux/internal/netsched"
)

// readLimit bounds a single telemetry message; samples are small JSON
// objects, anything larger is a misbehaving client.
const readLimit = 4 * 1024

// readTimeout closes sockets that stop reporting; clients are expected
// to send at least one sample per tick interval.
const readTimeout = 90 * time.Second

// Handler upgrades telemetry connections and records inbound samples.
type Handler struct {
	log      *slog.Logger
	sched    *netsched.Scheduler
	upgrader websocket.Upgrader

	clients  atomic.Int64
	received atomic.Int64
}

// NewHandler creates a telemetry Handler feeding sched. If log is nil,
// slog.Default() is used.
func NewHandler(sched *netsched.Scheduler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:   log.With("component", "telemetry"),
		sched: sched,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Telemetry is same-deployment; origin enforcement belongs to
			// the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and consumes samples until the peer
// closes or stops reporting.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.log.Info("telemetry client connected", "remote", r.RemoteAddr)

	conn.SetReadLimit(readLimit)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var sample netsched.Sample
		if err := conn.ReadJSON(&sample); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("telemetry read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}
		h.sched.Record(sample)
		h.received.Add(1)
	}
}

// Clients returns the number of currently connected telemetry clients.
func (h *Handler) Clients() int64 {
	return h.clients.Load()
}

// Received returns the lifetime count of accepted samples.
func (h *Handler) Received() int64 {
	return h.received.Load()
}
