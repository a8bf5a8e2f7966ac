package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans snapshot messages out to every connected websocket client
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	lock      sync.Mutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
		logger:    logger,
	}
}

// Run delivers broadcasts until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.lock.Unlock()
			return
		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *Hub) send(message []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Debug("Dropping websocket client", zap.String("remote", client.RemoteAddr().String()), zap.Error(err))
			_ = client.Close()
			delete(h.clients, client)
		}
	}
}

// Broadcast queues msg; when the queue is full the message is dropped, the
// next snapshot supersedes it anyway
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Dashboard broadcast queue full, dropping snapshot")
	}
}

func (h *Hub) ClientCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection. If initial is
// non-nil it is written first so a new client does not wait a full tick.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS upgrade failed", zap.Error(err))
		return
	}
	h.lock.Lock()
	if initial != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			h.lock.Unlock()
			_ = conn.Close()
			return
		}
	}
	h.clients[conn] = true
	h.lock.Unlock()
	h.logger.Info("Dashboard client connected", zap.String("remote", r.RemoteAddr))

	// drain reads so close frames and pings are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				if h.clients[conn] {
					delete(h.clients, conn)
					_ = conn.Close()
				}
				h.lock.Unlock()
				return
			}
		}
	}()
}
