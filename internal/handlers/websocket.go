package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sportsbook-settlement-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams persisted notifications to connected
// account owners. It implements services.Broadcaster.
type WebSocketHandler struct {
	hub *WebSocketHub
}

type WebSocketHub struct {
	clients    map[string]*websocket.Conn
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

type Client struct {
	UserID string
	Conn   *websocket.Conn
}

type Message struct {
	Type   string      `json:"type"`
	UserID string      `json:"user_id,omitempty"`
	Data   interface{} `json:"data"`
}

func NewWebSocketHandler() *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[string]*websocket.Conn),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
	}

	go hub.run()

	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
	}

	h.hub.register <- client

	defer func() {
		h.hub.unregister <- client
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		// Inbound messages are ignored; the stream is push-only.
	}
}

// NotifyUser queues a notification for the owner's open connection.
// Dropped silently when the hub is saturated; the notification is
// already persisted and readable via the API.
func (h *WebSocketHandler) NotifyUser(userID string, n *models.Notification) {
	select {
	case h.hub.broadcast <- &Message{Type: "notification", UserID: userID, Data: n}:
	default:
	}
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.clients[client.UserID] = client.Conn

		case client := <-hub.unregister:
			if conn, ok := hub.clients[client.UserID]; ok && conn == client.Conn {
				delete(hub.clients, client.UserID)
			}

		case msg := <-hub.broadcast:
			conn, ok := hub.clients[msg.UserID]
			if !ok {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("WebSocket write failed for %s: %v", msg.UserID, err)
				conn.Close()
				delete(hub.clients, msg.UserID)
			}
		}
	}
}
