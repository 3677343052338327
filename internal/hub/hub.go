// Package hub fans state changes out to connected websocket observers.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmorsell/headsetd/internal/metrics"
	"github.com/vmorsell/headsetd/pkg/model"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 256
)

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	send    chan []byte
	initial func() model.State
}

// Hub owns the set of observers. All membership changes go through Run.
type Hub struct {
	logger     *zap.Logger
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	count      chan chan int
	done       chan struct{}
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run serves membership and broadcasts until ctx is done, then closes
// every observer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if msg, err := encodeState(c.initial()); err == nil {
				c.send <- msg
			}
			h.clients[c] = struct{}{}
			metrics.Observers.Set(float64(len(h.clients)))
			h.logger.Info("observer connected", zap.String("id", c.id), zap.Int("observers", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("observer disconnected", zap.String("id", c.id), zap.Int("observers", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping slow observer", zap.String("id", c.id))
					h.drop(c)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.Observers.Set(float64(len(h.clients)))
}

// Notify broadcasts a state-change event to every observer.
func (h *Hub) Notify(st model.State) {
	msg, err := encodeState(st)
	if err != nil {
		h.logger.Error("failed to encode state", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Attach registers conn as an observer. The observer first receives
// current(), evaluated at registration so no change can fall between it
// and the broadcasts that follow.
func (h *Hub) Attach(conn *websocket.Conn, current func() model.State) {
	c := &client{
		hub:     h,
		conn:    conn,
		id:      uuid.NewString(),
		send:    make(chan []byte, sendBufferSize),
		initial: current,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func encodeState(st model.State) ([]byte, error) {
	return json.Marshal(model.StateMessage{Type: model.MessageTypeStateChange, Data: st})
}

// readPump only keeps the connection alive; observers do not send commands.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket error", zap.String("id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
