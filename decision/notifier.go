package decision

import (
	"log"
	"sync"
	"time"

	"coldreach/models"

	"github.com/gofiber/websocket/v2"
)

// wsEvent is the payload pushed to connected admin clients
type wsEvent struct {
	DecisionID uint      `json:"decision_id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Urgency    string    `json:"urgency"`
	SafetyGate int       `json:"safety_gate"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Hub broadcasts decision notifications to admin websocket clients
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *log.Logger
}

// NewHub creates an empty notification hub
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// Handler keeps a websocket connection registered until it closes
func (h *Hub) Handler(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close()
	}()

	// Drain reads so close frames are processed
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify pushes a decision event to every connected client
func (h *Hub) Notify(d *models.Decision) {
	event := wsEvent{
		DecisionID: d.ID,
		Title:      d.Title,
		Category:   d.Category,
		Urgency:    d.Urgency,
		SafetyGate: d.SafetyGate,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Printf("Error writing decision event: %v", err)
			delete(h.clients, c)
			c.Close()
		}
	}
}
