package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
)

// HubOptions configures the websocket observer hub.
type HubOptions struct {
	// QueueSize bounds undelivered messages per client; overflow is dropped.
	QueueSize    int
	WriteTimeout time.Duration
}

// Envelope is the websocket message carrying one state snapshot.
type Envelope struct {
	Event   string              `json:"event"`
	Payload domain.OverlayState `json:"payload"`
}

// Hub pushes overlay states to websocket observers such as browser sources.
type Hub struct {
	reader   ports.StateReader
	metrics  ports.BridgeMetrics
	logger   *logrus.Entry
	opts     HubOptions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

var _ ports.StateSink = (*Hub)(nil)

func NewHub(reader ports.StateReader, metrics ports.BridgeMetrics, logger *logrus.Entry, opts HubOptions) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	return &Hub{
		reader:  reader,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The HTTP surface only binds loopback addresses.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams states until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &hubClient{
		conn:         conn,
		send:         make(chan []byte, h.opts.QueueSize),
		done:         make(chan struct{}),
		writeTimeout: h.opts.WriteTimeout,
	}
	if !h.register(client) {
		client.close()
		return
	}
	defer h.unregister(client)

	if state, err := h.reader.State(); err == nil {
		if payload, err := encodeEnvelope(state); err == nil {
			client.enqueue(payload)
		}
	} else {
		h.logger.WithError(err).Warn("could not read state for new observer")
	}

	go client.writeLoop()
	client.readLoop()
}

// PublishState queues state for every connected client without blocking.
func (h *Hub) PublishState(state domain.OverlayState) {
	payload, err := encodeEnvelope(state)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode overlay state")
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			h.logger.WithField("remote", c.conn.RemoteAddr().String()).Debug("observer queue full; state dropped")
		}
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every observer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ObserversConnected(count)
	h.logger.WithFields(logrus.Fields{"remote": c.conn.RemoteAddr().String(), "observers": count}).Info("websocket observer connected")
	return true
}

func (h *Hub) unregister(c *hubClient) {
	c.close()

	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ObserversConnected(count)
	h.logger.WithFields(logrus.Fields{"remote": c.conn.RemoteAddr().String(), "observers": count}).Info("websocket observer disconnected")
}

func encodeEnvelope(state domain.OverlayState) ([]byte, error) {
	return json.Marshal(Envelope{Event: domain.StateEvent, Payload: state})
}

type hubClient struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// enqueue never blocks; it reports false when the message was dropped.
func (c *hubClient) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *hubClient) writeLoop() {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop discards inbound frames; it returns once the connection fails or closes.
func (c *hubClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(100*time.Millisecond),
		)
		_ = c.conn.Close()
	})
}
