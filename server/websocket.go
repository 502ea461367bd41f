package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/warehouse-agent/protocol"
)

const writeTimeout = 10 * time.Second

// Client is a connected WebSocket peer. Writes are serialized so handlers
// and broadcasts can share the connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// WriteJSON sends v as a text frame.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// WriteBinary sends data as a binary frame.
func (c *Client) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendResponse sends a successful response to req.
func SendResponse(c *Client, req protocol.WebSocketRequest, payload any) error {
	return c.WriteJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	})
}

// SendErrorResponse sends a structured error response to a WebSocket client.
func SendErrorResponse(c *Client, requestID, code, message string) error {
	return c.WriteJSON(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: protocol.ErrorPayload{Code: code},
	})
}

// ClientManager manages WebSocket client connections and broadcasting.
type ClientManager struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewClientManager creates a new ClientManager instance.
func NewClientManager(logger *log.Logger) *ClientManager {
	return &ClientManager{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a new client connection.
func (cm *ClientManager) Register(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c] = true
}

// Unregister removes a client connection.
func (cm *ClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, c)
}

// Count returns the number of connected clients.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes all client connections.
func (cm *ClientManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for c := range cm.clients {
		c.Close()
		delete(cm.clients, c)
	}
}

// Broadcast sends a message to all connected clients. Clients that fail the
// write are closed and dropped.
func (cm *ClientManager) Broadcast(message protocol.WebSocketMessage) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		if err := c.WriteJSON(message); err != nil {
			cm.logger.Printf("WebSocket write error: %v", err)
			c.Close()
			cm.Unregister(c)
		}
	}
}
