package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/galarux/subastapp/internal/auction"
	"github.com/galarux/subastapp/internal/database"
	"github.com/galarux/subastapp/pkg/errors"
	"github.com/galarux/subastapp/pkg/types"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := database.NewMemory()
	store.SeedParticipant(types.Participant{ID: "p1", Name: "Ana", Credits: 100, Order: 1})
	store.SeedParticipant(types.Participant{ID: "p2", Name: "Bea", Credits: 100, Order: 2})
	store.SeedItem(types.Item{ID: "i1", Name: "Vase", StartingPrice: 10})

	handler := NewAuctionWebSocketHandler(store)
	coordinator := auction.New(store, handler, auction.Config{
		CountdownSeconds:    12,
		MinIncrement:        5,
		ItemsPerParticipant: 25,
	}, nil)
	handler.SetCoordinator(coordinator)
	t.Cleanup(coordinator.Stop)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleAuctions))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	msg, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(fmt.Sprintf("%q", msgType)),
		"data": payload,
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, msg))
}

// readEvent returns the next event on the socket, skipping the countdown
// ticks that the live clock broadcasts every second.
func readEvent(t *testing.T, ws *websocket.Conn) wireEvent {
	t.Helper()
	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)

		var ev wireEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == "time-update" {
			continue
		}
		return ev
	}
}

func expectEvent(t *testing.T, ws *websocket.Conn, want string) wireEvent {
	t.Helper()
	ev := readEvent(t, ws)
	require.Equal(t, want, ev.Type)
	return ev
}

func TestAuctionRoundTrip(t *testing.T) {
	server := newTestServer(t)

	// Ana joins and receives the idle-room snapshot.
	ana := dial(t, server)
	send(t, ana, "join-auction", map[string]string{"participantId": "p1"})
	expectEvent(t, ana, "turn-changed")
	expectEvent(t, ana, "item-cleared")

	// Nomination without an explicit nominator falls back to the joined
	// participant and opens the lot for the whole room.
	send(t, ana, "nominate-item", map[string]string{"itemId": "i1"})
	started := expectEvent(t, ana, "auction-started")
	var startedData struct {
		Item types.Item `json:"item"`
	}
	require.NoError(t, json.Unmarshal(started.Data, &startedData))
	require.Equal(t, "i1", startedData.Item.ID)

	opening := expectEvent(t, ana, "new-bid")
	var openingData struct {
		Bid           types.Bid `json:"bid"`
		BidderCredits int       `json:"bidderCredits"`
	}
	require.NoError(t, json.Unmarshal(opening.Data, &openingData))
	require.Equal(t, 10, openingData.Bid.Amount)
	require.Equal(t, 90, openingData.BidderCredits)

	// Bea joins mid-lot and is caught up on the live item.
	bea := dial(t, server)
	send(t, bea, "join-auction", map[string]string{"participantId": "p2"})
	expectEvent(t, bea, "turn-changed")
	expectEvent(t, bea, "auction-started")

	// A low raise is rejected back to Bea alone, with the minimum attached.
	send(t, bea, "place-bid", map[string]any{"itemId": "i1", "amount": 12})
	bidErr := expectEvent(t, bea, "bid-error")
	var errData struct {
		Code    int `json:"code"`
		Minimum int `json:"minimum"`
	}
	require.NoError(t, json.Unmarshal(bidErr.Data, &errData))
	require.Equal(t, errors.ErrBidTooLow, errData.Code)
	require.Equal(t, 15, errData.Minimum)

	// A valid raise broadcasts to everyone.
	send(t, bea, "place-bid", map[string]any{"itemId": "i1", "amount": 15})
	raise := expectEvent(t, bea, "new-bid")
	var raiseData struct {
		Bid           types.Bid `json:"bid"`
		BidderCredits int       `json:"bidderCredits"`
	}
	require.NoError(t, json.Unmarshal(raise.Data, &raiseData))
	require.Equal(t, 15, raiseData.Bid.Amount)
	require.Equal(t, "p2", raiseData.Bid.BidderID)
	require.Equal(t, 85, raiseData.BidderCredits)
	expectEvent(t, ana, "new-bid")
}

func TestUnknownMessageType(t *testing.T) {
	server := newTestServer(t)
	ws := dial(t, server)

	send(t, ws, "fly-to-the-moon", map[string]string{})
	ev := expectEvent(t, ws, "auction-error")

	var errData struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &errData))
	require.Equal(t, errors.ErrUnknownMessageType, errData.Code)
}

func TestMalformedMessage(t *testing.T) {
	server := newTestServer(t)
	ws := dial(t, server)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := expectEvent(t, ws, "auction-error")

	var errData struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &errData))
	require.Equal(t, errors.ErrBadMessageFormat, errData.Code)
}

// Rejections go out under the envelope matching their category: room
// level refusals as auction-error, item lookups as item-error, bid rule
// violations as bid-error (covered in TestAuctionRoundTrip).
func TestErrorEnvelopeRouting(t *testing.T) {
	server := newTestServer(t)
	ws := dial(t, server)

	send(t, ws, "join-auction", map[string]string{"participantId": "p1"})
	expectEvent(t, ws, "turn-changed")
	expectEvent(t, ws, "item-cleared")

	send(t, ws, "place-bid", map[string]any{"itemId": "i1", "amount": 15})
	ev := expectEvent(t, ws, "auction-error")
	var errData struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &errData))
	require.Equal(t, errors.ErrNoActiveAuction, errData.Code)

	send(t, ws, "nominate-item", map[string]string{"itemId": "no-such-item"})
	ev = expectEvent(t, ws, "item-error")
	require.NoError(t, json.Unmarshal(ev.Data, &errData))
	require.Equal(t, errors.ErrItemNotFound, errData.Code)
}

// A client dropped by a broadcast has its send channel closed; a message
// its read pump was still routing must not crash the handler when the
// rejection is unicast back.
func TestUnicastAfterBroadcastDrop(t *testing.T) {
	store := database.NewMemory()
	handler := NewAuctionWebSocketHandler(store)
	coordinator := auction.New(store, handler, auction.Config{
		CountdownSeconds:    12,
		MinIncrement:        5,
		ItemsPerParticipant: 25,
	}, nil)
	handler.SetCoordinator(coordinator)
	t.Cleanup(coordinator.Stop)

	connCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(server.Close)
	dial(t, server)
	serverConn := <-connCh

	// No write pump running and a full one-slot buffer, so the next
	// broadcast drops and disconnects this client.
	client := &Client{
		ID:          "c1",
		Conn:        serverConn,
		Send:        make(chan []byte, 1),
		RateLimiter: rate.NewLimiter(1, 3),
	}
	require.True(t, client.TrySend([]byte("fill")))

	handler.clientLock.Lock()
	handler.connectedClients[client] = true
	handler.clientLock.Unlock()

	handler.Broadcast([]byte(`{"type":"time-update","data":{"timeRemaining":3}}`))

	require.NotPanics(t, func() {
		handler.HandleMessage(client, []byte("not json"))
	})
	require.False(t, client.TrySend([]byte("late")))
}
