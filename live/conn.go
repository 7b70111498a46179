package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Conn wraps one live websocket. Writes come from multiple goroutines (the
// connection's own read loop plus broadcasts triggered by other connections)
// so they are serialized under a mutex; reads only ever happen from the one
// read loop that owns the connection.
type Conn struct {
	Token string

	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func NewConn(token string, ws *websocket.Conn) *Conn {
	return &Conn{
		Token: token,
		ws:    ws,
	}
}

// ReadMessage blocks until the next frame arrives. Only call from the read
// loop which owns this connection.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// WriteResult pushes a result envelope to the client.
func (c *Conn) WriteResult(res *Result) error {
	return c.writeJSON(res)
}

// WriteError sends an error envelope. Errors go only to the connection whose
// message failed, never into a broadcast.
func (c *Conn) WriteError(message string) error {
	return c.writeJSON(&ErrorResponse{Message: message})
}

func (c *Conn) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Close tears down the websocket. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.ws.Close()
}
