package websocket

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/galarux/subastapp/pkg/errors"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "place-bid")
	Data json.RawMessage `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Rate limit exceeded")))
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Invalid message format")))
		return
	}

	switch msg.Type {
	case "join-auction":
		h.handleJoin(client, msg.Data)
	case "nominate-item":
		h.handleNominate(client, msg.Data)
	case "place-bid":
		h.handleBid(client, msg.Data)
	case "withdraw":
		h.handleWithdraw(client, msg.Data)
	case "admin-reset-auction":
		h.handleReset(client)
	case "leave-auction":
		log.Debugf("Client %s left the auction", client.ID)
		client.SetParticipant("")
	default:
		log.Warnf("Unknown message type: %s", msg.Type)
		client.TrySend(errorPayload(errors.New(errors.ErrUnknownMessageType, "Unknown message type")))
	}
}

func (h *AuctionHandler) handleJoin(client *Client, data json.RawMessage) {
	var joinMsg struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(data, &joinMsg); err != nil || joinMsg.ParticipantID == "" {
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Invalid join message")))
		return
	}

	participant, err := h.db.GetParticipant(context.Background(), joinMsg.ParticipantID)
	if err != nil {
		log.Info("Join refused, participant not found: ", err)
		client.TrySend(errorPayload(errors.New(errors.ErrParticipantMissing, "Participant not found")))
		return
	}
	client.SetParticipant(participant.ID)
	log.Infof("Participant %s joined the auction", participant.Name)

	// Bring the new arrival up to date with the live lot and turn.
	events, appErr := h.coordinator.Snapshot(context.Background())
	if appErr != nil {
		client.TrySend(errorPayload(appErr))
		return
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error("Error marshalling snapshot event: ", err)
			continue
		}
		client.TrySend(payload)
	}
}

func (h *AuctionHandler) handleNominate(client *Client, data json.RawMessage) {
	var nominateMsg struct {
		ItemID      string `json:"itemId"`
		NominatorID string `json:"nominatorId"`
	}
	if err := json.Unmarshal(data, &nominateMsg); err != nil || nominateMsg.ItemID == "" {
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Invalid nominate message")))
		return
	}
	nominatorID := nominateMsg.NominatorID
	if nominatorID == "" {
		nominatorID = client.Participant()
	}

	if appErr := h.coordinator.Nominate(context.Background(), nominateMsg.ItemID, nominatorID); appErr != nil {
		client.TrySend(errorPayload(appErr))
	}
}

func (h *AuctionHandler) handleBid(client *Client, data json.RawMessage) {
	var bidMsg struct {
		ItemID   string `json:"itemId"`
		BidderID string `json:"bidderId"`
		Amount   int    `json:"amount"`
	}
	if err := json.Unmarshal(data, &bidMsg); err != nil || bidMsg.ItemID == "" || bidMsg.Amount <= 0 {
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Invalid bid message")))
		return
	}
	bidderID := bidMsg.BidderID
	if bidderID == "" {
		bidderID = client.Participant()
	}

	if appErr := h.coordinator.PlaceBid(context.Background(), bidMsg.ItemID, bidderID, bidMsg.Amount); appErr != nil {
		client.TrySend(errorPayload(appErr))
	}
}

func (h *AuctionHandler) handleWithdraw(client *Client, data json.RawMessage) {
	var withdrawMsg struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(data, &withdrawMsg); err != nil {
		client.TrySend(errorPayload(errors.New(errors.ErrBadMessageFormat, "Invalid withdraw message")))
		return
	}
	participantID := withdrawMsg.ParticipantID
	if participantID == "" {
		participantID = client.Participant()
	}

	if appErr := h.coordinator.Withdraw(context.Background(), participantID); appErr != nil {
		client.TrySend(errorPayload(appErr))
	}
}

func (h *AuctionHandler) handleReset(client *Client) {
	if appErr := h.coordinator.Reset(context.Background()); appErr != nil {
		client.TrySend(errorPayload(appErr))
	}
}

// errorEventType picks the wire envelope for a rejection: bid rule
// violations go out as bid-error, item lookups as item-error, everything
// at room level as auction-error.
func errorEventType(code int) string {
	switch code {
	case errors.ErrBidTooLow, errors.ErrInsufficientFunds, errors.ErrLeaderCannotRaise,
		errors.ErrLeaderWithdraw, errors.ErrAlreadyWithdrawn:
		return "bid-error"
	case errors.ErrItemAuctioned, errors.ErrItemNotFound:
		return "item-error"
	default:
		return "auction-error"
	}
}

// errorPayload wraps a rejection in its envelope for unicasting to the
// submitting client. Rule violations never interrupt the rest of the room.
func errorPayload(appErr *errors.AppError) []byte {
	wrapped := struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: errorEventType(appErr.Code), Data: appErr.ToJSON()}

	out, err := json.Marshal(wrapped)
	if err != nil {
		return []byte(`{"type":"auction-error","data":{"code":500,"message":"internal server error"}}`)
	}
	return out
}
