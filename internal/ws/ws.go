// Package ws pushes newly stored messages to connected participants.
// Clients publish through the HTTP API; the websocket is a one-way feed.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sinas/internal/logger"
	"sinas/internal/models"
)

// MessageEvent is what connected clients receive when a message lands in
// one of their conversations.
type MessageEvent struct {
	Type           string `json:"type"` // "message"
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	Sender         string `json:"sender"`
	IsFile         bool   `json:"is_file"`
}

type Hub struct {
	clients    map[string]*Client
	broadcast  chan broadcastJob
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type broadcastJob struct {
	event        *MessageEvent
	participants []string
}

type Client struct {
	username string
	conn     *websocket.Conn
	hub      *Hub
	send     chan *MessageEvent
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front of this.
		return true
	},
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan broadcastJob, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// IsUserOnline checks if a user is currently connected.
func (h *Hub) IsUserOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[username]
	return ok
}

// BroadcastMessage fans a stored message out to every connected
// participant of its conversation.
func (h *Hub) BroadcastMessage(conversationID string, participants []string, msg models.Message) {
	h.broadcast <- broadcastJob{
		event: &MessageEvent{
			Type:           "message",
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Content:        msg.Content,
			Timestamp:      msg.Timestamp,
			Sender:         msg.Sender,
			IsFile:         msg.IsFile,
		},
		participants: participants,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.username] = client
			total := len(h.clients)
			h.mu.Unlock()
			logger.Log.Info("user connected",
				zap.String("username", client.username), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.username]; ok && current == client {
				delete(h.clients, client.username)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logger.Log.Info("user disconnected",
				zap.String("username", client.username), zap.Int("total", total))

		case job := <-h.broadcast:
			h.mu.RLock()
			for _, username := range job.participants {
				client, ok := h.clients[username]
				if !ok {
					continue
				}
				select {
				case client.send <- job.event:
				default:
					logger.Log.Warn("send channel full, dropping event",
						zap.String("username", username))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	username := c.GetString("username")
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		username: username,
		conn:     conn,
		hub:      h,
		send:     make(chan *MessageEvent, 256),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// The feed is one-way; inbound frames only keep the connection alive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
