package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
)

const (
	EventInit       = "init"
	EventUpdate     = "update"
	EventRegistered = "registered"
	EventError      = "error"
)

// Envelope is the frame exchanged with viewers in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Client struct {
	ID   string
	Send chan []byte
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	queue   Queue
}

func New(queue Queue) *Hub {
	return &Hub{clients: make(map[string]*Client), queue: queue}
}

// Register adds client and sends it the current snapshot. A commit that
// lands between the two may reach the client before init; viewers keep
// the snapshot with the highest version.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()
	metrics.ViewersConnected.Set(float64(count))

	payload, err := encode(EventInit, h.queue.Snapshot())
	if err != nil {
		log.Printf("encode init for client %s: %v", client.ID, err)
		return
	}
	h.SendTo(client, payload)
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.ViewersConnected.Set(float64(count))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans a committed snapshot out to every viewer. It is registered
// as a queue commit listener.
func (h *Hub) Publish(snapshot models.Snapshot) {
	payload, err := encode(EventUpdate, snapshot)
	if err != nil {
		log.Printf("encode update version=%d: %v", snapshot.Version, err)
		return
	}
	h.Broadcast(payload)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

// SendTo delivers payload to one viewer if it is still registered.
func (h *Hub) SendTo(client *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
		log.Printf("drop message for client %s", client.ID)
	}
}

func encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
