// Package ws streams normalized message events to connected dashboard
// clients. Clients subscribe for one tenant; events are fanned out only to
// that tenant's connections.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"whatsapp-platform/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID uint
	send     chan []byte
}

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	log        *zap.Logger
}

type envelope struct {
	tenantID uint
	payload  []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.tenantID != env.tenantID {
					continue
				}
				select {
				case client.send <- env.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (h *Hub) emit(tenantID uint, eventType string, data any) {
	payload, err := json.Marshal(wsEvent{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("failed to marshal ws event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- envelope{tenantID: tenantID, payload: payload}:
	default:
		// Dropping an event beats blocking the webhook path.
	}
}

// NotifyMessage publishes a new inbound or outbound message.
func (h *Hub) NotifyMessage(tenantID uint, msg *models.Message) {
	h.emit(tenantID, "new_message", msg)
}

// NotifyStatus publishes a delivery-status change.
func (h *Hub) NotifyStatus(tenantID uint, msg *models.Message) {
	h.emit(tenantID, "message_status", msg)
}

// NotifyCampaign publishes campaign progress updates mid-run.
func (h *Hub) NotifyCampaign(tenantID uint, campaign *models.Campaign) {
	h.emit(tenantID, "campaign_progress", campaign)
}

// ServeWs upgrades a dashboard connection scoped to one tenant.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, tenantID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, tenantID: tenantID, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
