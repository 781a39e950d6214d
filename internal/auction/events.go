package auction

import (
	"time"

	"github.com/galarux/subastapp/pkg/types"
)

// EventType names follow the wire protocol the client listens on.
type EventType string

const (
	EventAuctionStarted  EventType = "auction-started"
	EventNewBid          EventType = "new-bid"
	EventTimeUpdate      EventType = "time-update"
	EventAuctionEnded    EventType = "auction-ended"
	EventStateUpdated    EventType = "auction-state-updated"
	EventItemCleared     EventType = "item-cleared"
	EventTurnChanged     EventType = "turn-changed"
	EventAuctionComplete EventType = "auction-complete"
	EventAuctionReset    EventType = "auction-reset"
)

// Event is a room broadcast. Data marshals as the event payload.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Sink receives coordinator events for fan-out to connected clients.
// Delivery is best-effort; the coordinator never blocks on it while
// holding its lock.
type Sink interface {
	Publish(event Event)
}

type AuctionStartedData struct {
	Item          types.Item `json:"item"`
	TimeRemaining int        `json:"timeRemaining"`
}

type NewBidData struct {
	Bid types.Bid `json:"bid"`
	// BidderCredits is the bidder's balance after the debit, so every
	// client can render live balances.
	BidderCredits int `json:"bidderCredits"`
}

type TimeUpdateData struct {
	TimeRemaining int `json:"timeRemaining"`
}

type AuctionEndedData struct {
	Message  string              `json:"message"`
	Item     types.Item          `json:"item"`
	Winner   types.Participant   `json:"winner"`
	Amount   int                 `json:"amount"`
	Balances []types.Participant `json:"balances"`
}

type StateUpdatedData struct {
	Active        bool `json:"active"`
	TimeRemaining int  `json:"timeRemaining"`
}

type ItemClearedData struct {
	Message string `json:"message"`
}

type TurnChangedData struct {
	CurrentTurn int `json:"currentTurn"`
}

type AuctionCompleteData struct {
	Message string                   `json:"message"`
	Winner  types.ParticipantTally   `json:"winner"`
	Stats   []types.ParticipantTally `json:"stats"`
}

type AuctionResetData struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
