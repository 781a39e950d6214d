package websocket

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Client struct {
	ID          string // connection id
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	closed      bool          // Flag to check if the connection is closed
	mu          sync.Mutex    // Mutex to protect the closed flag

	participantID string // Set once the client joins the auction
	pmu           sync.Mutex
}

// SetParticipant binds the connection to a ledger participant after a
// successful join.
func (c *Client) SetParticipant(id string) {
	c.pmu.Lock()
	c.participantID = id
	c.pmu.Unlock()
}

func (c *Client) Participant() string {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return c.participantID
}

// TrySend queues a message for the write pump without ever blocking.
// It reports false when the message was not queued: either the client
// was already disconnected or its buffer is full. Broadcast can close a
// dropped client while the read pump is still routing one of its
// messages, so every send must go through this guard rather than the
// bare channel.
func (c *Client) TrySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// ReadMessages listens for incoming messages from the client.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages to the client.
func (c *Client) WriteMessages() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()

		if err != nil {
			log.Debugf("Error sending message to client %s: %v", c.ID, err)
			return
		}
	}
}

// Disconnect cleans up client resources.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	c.Conn.Close()
	log.Debugf("Client %s cleanup completed", c.ID)
}
