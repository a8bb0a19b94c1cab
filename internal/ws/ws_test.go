package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sinas/internal/models"
)

func TestHubCreation(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{username: "alice", hub: hub, send: make(chan *MessageEvent, 1)}
	hub.register <- client

	deadline := time.After(time.Second)
	for !hub.IsUserOnline("alice") {
		select {
		case <-deadline:
			t.Fatal("alice never came online")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.unregister <- client
	deadline = time.After(time.Second)
	for hub.IsUserOnline("alice") {
		select {
		case <-deadline:
			t.Fatal("alice never went offline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBroadcastReachesOnlyParticipants(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := &Client{username: "alice", hub: hub, send: make(chan *MessageEvent, 4)}
	carol := &Client{username: "carol", hub: hub, send: make(chan *MessageEvent, 4)}
	hub.register <- alice
	hub.register <- carol

	deadline := time.After(time.Second)
	for !hub.IsUserOnline("alice") || !hub.IsUserOnline("carol") {
		select {
		case <-deadline:
			t.Fatal("clients never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.BroadcastMessage("42", []string{"alice", "bob"}, models.Message{
		ID: 7, Content: "hi", Timestamp: 100, Sender: "bob",
	})

	select {
	case event := <-alice.send:
		if event.ConversationID != "42" || event.Content != "hi" || event.Sender != "bob" {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("alice never received the event")
	}

	select {
	case event := <-carol.send:
		t.Errorf("carol is not a participant but received: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	go hub.Run()

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("username", "alice")
		hub.HandleWebSocket(c)
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for !hub.IsUserOnline("alice") {
		select {
		case <-deadline:
			t.Fatal("alice never came online")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.BroadcastMessage("dm", []string{"alice", "bob"}, models.Message{
		ID: 1, Content: "yo", Timestamp: 50, Sender: "bob",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event MessageEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if event.Type != "message" || event.Content != "yo" || event.ConversationID != "dm" {
		t.Errorf("unexpected event: %+v", event)
	}
}
