// Package hub fans refreshed order views and sync events out to connected
// POS screens of one restaurant.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	MessageOrders = "orders"
	MessageSync   = "sync"
)

type Client struct {
	ID           string
	RestaurantID string
	Send         chan []byte
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish wraps payload in a Message and broadcasts it to the restaurant.
func (h *Hub) Publish(restaurantID, msgType string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Message{Type: msgType, Payload: p, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	h.Broadcast(b, restaurantID)
	return nil
}

// Broadcast never blocks: a client whose buffer is full misses the message
// and catches up on its next refresh.
func (h *Hub) Broadcast(payload []byte, restaurantID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.RestaurantID != restaurantID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("hub: drop message for client=%s", client.ID)
		}
	}
}
