package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ampnm/core-go/internal/animator"
	"ampnm/core-go/internal/metrics"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 25 * time.Second
)

// StreamMessage is one websocket message of the frame stream.
type StreamMessage struct {
	Type      string          `json:"type"` // "frame" or "ping"
	Frame     *animator.Frame `json:"frame,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub fans animator frames out to websocket clients. It is an
// animator.Renderer; a client that falls behind only ever gets the newest frame.
type Hub struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	send chan animator.Frame
}

func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// Render queues f for every client without blocking.
func (h *Hub) Render(f animator.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- f:
			continue
		default:
		}
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- f:
		default:
		}
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add() *streamClient {
	c := &streamClient{send: make(chan animator.Frame, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.AddStreamClients(1)
	return c
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.AddStreamClients(-1)
	}
}

// ServeHTTP upgrades the request and streams frames until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := h.add()
	defer h.remove(c)
	h.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("stream client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: "frame", Frame: &f, Timestamp: time.Now().UTC()}); err != nil {
				h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and cancels once the connection drops.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
