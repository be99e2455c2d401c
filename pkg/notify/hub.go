package notify

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is the JSON envelope pushed over the socket.
type Event struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Hub fans notifications out to every connected websocket client. Clients
// with a full send buffer are dropped rather than ever blocking the
// broadcast loop.
type Hub struct {
	log        *zap.Logger
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    map[*client]bool{},
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

var _ Notifier = (*Hub)(nil)

// Notify satisfies Notifier. If the broadcast buffer is full the event is
// dropped; the hub must never back-pressure game logic.
func (h *Hub) Notify(title, body string) {
	raw, err := json.Marshal(Event{Title: title, Body: body})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.log.Warn("notify hub saturated, event dropped", zap.String("title", title))
	}
}

// Run owns the client registry. It blocks until Close is called, so run it
// in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("websocket client registered", zap.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		}
	}
}

// Close stops the Run loop and disconnects every client.
func (h *Hub) Close() {
	close(h.done)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump discards client input; the socket is push-only. It exists to
// detect disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
