package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"lilychat/internal/models"

	"github.com/google/uuid"
)

// MessageToSend defines the structure for sending a payload to a specific user.
type MessageToSend struct {
	TargetUserID uuid.UUID
	Payload      []byte
}

// Hub maintains the set of active feed subscribers. Change events are fanned
// out to every subscriber unfiltered; clients decide relevance themselves.
type Hub struct {
	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[uuid.UUID]map[*Client]bool

	// Change events fanned out to all connected subscribers.
	Broadcast chan []byte

	// Channel for sending payloads to a specific user's connections.
	SendDirect chan *MessageToSend

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 64),
		SendDirect: make(chan *MessageToSend),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Clients:    make(map[uuid.UUID]map[*Client]bool),
	}
}

// Run starts the hub's processing loop.
func (h *Hub) Run() {
	slog.Info("realtime hub started")
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Clients[client.UserID]; !ok {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			slog.Debug("feed client registered",
				"userId", client.UserID,
				"connections", len(h.Clients[client.UserID]))
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if userClients, ok := h.Clients[client.UserID]; ok {
				if _, clientOk := userClients[client]; clientOk {
					delete(userClients, client)
					if len(userClients) == 0 {
						delete(h.Clients, client.UserID)
					}
					slog.Debug("feed client unregistered",
						"userId", client.UserID,
						"remaining", len(userClients))
				}
			}
			h.mu.Unlock()

		case message := <-h.Broadcast:
			h.mu.RLock()
			for _, userClients := range h.Clients {
				for client := range userClients {
					select {
					case client.Send <- message:
					default:
						slog.Warn("feed send buffer full, dropping event", "userId", client.UserID)
					}
				}
			}
			h.mu.RUnlock()

		case directMessage := <-h.SendDirect:
			h.mu.RLock()
			if userClients, ok := h.Clients[directMessage.TargetUserID]; ok {
				for client := range userClients {
					select {
					case client.Send <- directMessage.Payload:
					default:
						slog.Warn("direct send buffer full, dropping payload", "userId", client.UserID)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishEvent marshals a change event and fans it out to every subscriber.
func (h *Hub) PublishEvent(event *models.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal change event", "error", err)
		return
	}
	select {
	case h.Broadcast <- payload:
	case <-time.After(1 * time.Second):
		slog.Warn("timeout queuing change event, hub busy", "table", event.Table, "kind", event.Kind)
	}
}

// SendDirectPayload sends a payload to one user's connections only.
func (h *Hub) SendDirectPayload(targetUserID uuid.UUID, payload []byte) {
	message := &MessageToSend{
		TargetUserID: targetUserID,
		Payload:      payload,
	}
	select {
	case h.SendDirect <- message:
	case <-time.After(1 * time.Second):
		slog.Warn("timeout queuing direct payload, hub busy", "userId", targetUserID)
	}
}

// ConnectedUserIDs reports which users currently hold at least one feed
// connection.
func (h *Hub) ConnectedUserIDs() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(h.Clients))
	for id := range h.Clients {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected reports whether the user holds at least one feed connection.
func (h *Hub) IsConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.Clients[userID]
	return ok && len(clients) > 0
}
