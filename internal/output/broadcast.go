package output

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub транслирует выходные записи подключённым websocket-клиентам (UI).
// Это зеркало stdout: клиенты получают те же JSON-строки, подписка
// опциональна и потеря клиента не влияет на основной поток.
type Hub struct {
	clients map[*wsClient]bool
	mu      sync.Mutex
	server  *http.Server
}

// NewHub создаёт hub и поднимает HTTP-сервер на addr (например "127.0.0.1:8765")
func NewHub(addr string) (*Hub, error) {
	hub := &Hub{clients: make(map[*wsClient]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", hub.handleStream)

	hub.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := hub.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[WS] server error: %v", err)
		}
	}()

	log.Printf("[WS] broadcasting output records on ws://%s/stream", addr)
	return hub, nil
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] client connected (%d total)", count)

	// Читаем входящие только чтобы заметить отключение
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(client)
				return
			}
		}
	}()
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		client.conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] client disconnected (%d total)", count)
}

// Broadcast отправляет строку всем клиентам. Ошибка отправки = отключение.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			h.remove(c)
		}
	}
}

// Close останавливает сервер и отключает клиентов
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	if h.server != nil {
		h.server.Close()
	}
}
