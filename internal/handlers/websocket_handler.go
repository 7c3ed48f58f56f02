package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mediamirror/server/internal/observability"
	"github.com/mediamirror/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - can be restricted in production
		return true
	},
}

// WebSocketHandler handles WebSocket connections for sync status updates
type WebSocketHandler struct {
	hub    *services.StatusHub
	logger *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.StatusHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: observability.GetLogger().WithField("component", "websocket_handler"),
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := h.hub.NewClient(clientID, conn)
	h.hub.Register(client)

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warnf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic, ok := messageTopic(msg); ok {
			h.hub.Subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic, ok := messageTopic(msg); ok {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		// Respond with pong
		response := services.WSMessage{
			Type:    services.WSTypePong,
			Payload: nil,
		}
		if data, err := json.Marshal(response); err == nil {
			client.Send <- data
		}

	default:
		h.logger.Warnf("Unknown WebSocket message type: %s", msg.Type)
	}
}

// messageTopic accepts both a bare string payload and {"topic": "..."}
func messageTopic(msg services.WSMessage) (string, bool) {
	if topic, ok := msg.Payload.(string); ok {
		return topic, true
	}
	if payload, ok := msg.Payload.(map[string]interface{}); ok {
		if topic, ok := payload["topic"].(string); ok {
			return topic, true
		}
	}
	return "", false
}
