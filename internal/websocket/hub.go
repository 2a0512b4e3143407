// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

const broadcastBuffer = 256

// Message is the envelope every dashboard frame uses.
type Message struct {
	Type    string `json:"type"` // "data", "alert", "history", "fleet"
	Payload any    `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts messages. The client
// set is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	done       chan struct{}
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("websocket client registered", zap.String("remote", client.remoteAddr()))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Debug("websocket client unregistered", zap.String("remote", client.remoteAddr()))
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.logger.Warn("websocket client send buffer full, removing", zap.String("remote", client.remoteAddr()))
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// RegisterClient hands a new client to the hub.
func (h *Hub) RegisterClient(ctx context.Context, client *Client) {
	select {
	case h.register <- client:
	case <-ctx.Done():
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

func (h *Hub) BroadcastData(payload any) {
	h.send(Message{Type: "data", Payload: payload})
}

func (h *Hub) BroadcastAlert(alert any) {
	h.send(Message{Type: "alert", Payload: alert})
}

// BroadcastFleet announces a fleet-wide refresh such as a snapshot import.
func (h *Hub) BroadcastFleet(summary any) {
	h.send(Message{Type: "fleet", Payload: summary})
}

// send drops the message rather than block the caller when the hub is backed up.
func (h *Hub) send(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Warn("websocket broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}
