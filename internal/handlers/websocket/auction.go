package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/galarux/subastapp/internal/auction"
	"github.com/galarux/subastapp/internal/database"
)

type AuctionHandler struct {
	db          database.Service
	coordinator *auction.Coordinator

	clientLock       sync.Mutex
	connectedClients map[*Client]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewAuctionWebSocketHandler(db database.Service) *AuctionHandler {
	return &AuctionHandler{
		db:               db,
		connectedClients: make(map[*Client]bool),
	}
}

// SetCoordinator wires the room coordinator in after construction; the
// coordinator needs the handler as its event sink, so the two are built
// in sequence.
func (h *AuctionHandler) SetCoordinator(c *auction.Coordinator) {
	h.coordinator = c
}

// HandleAuctions upgrades the HTTP request to a WebSocket connection and
// starts the client's read/write pumps.
func (h *AuctionHandler) HandleAuctions(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(1, 3),
	}

	h.clientLock.Lock()
	h.connectedClients[client] = true
	h.clientLock.Unlock()

	go client.ReadMessages(h.HandleMessage, h.removeClient)
	go client.WriteMessages()
}

func (h *AuctionHandler) removeClient(client *Client) {
	h.clientLock.Lock()
	delete(h.connectedClients, client)
	h.clientLock.Unlock()
	client.Disconnect()
}

// Publish implements auction.Sink: coordinator events fan out to every
// connected client.
func (h *AuctionHandler) Publish(event auction.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Error("Error marshalling event: ", err)
		return
	}
	h.Broadcast(message)
}

// Broadcast sends a message to all connected clients. Clients whose send
// buffer is full are dropped; delivery is best-effort.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()

	for client := range h.connectedClients {
		if !client.TrySend(message) {
			delete(h.connectedClients, client)
			client.Disconnect()
		}
	}
}
