package types

import (
	"time"
)

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Credits   int    `json:"credits"`
	Order     int    `json:"order"`
	Withdrawn bool   `json:"withdrawn"`
}

type Item struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	StartingPrice int     `json:"startingPrice"`
	Auctioned     bool    `json:"auctioned"`
	WinnerID      *string `json:"winnerId,omitempty"`
}

type Bid struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	BidderID  string    `json:"bidderId"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuctionState is the single per-room record driving the coordinator.
// Active is true iff CurrentItemID is set and that item has no winner yet.
type AuctionState struct {
	CurrentItemID *string `json:"currentItemId,omitempty"`
	Active        bool    `json:"active"`
	CurrentTurn   int     `json:"currentTurn"`
	TimeRemaining int     `json:"timeRemaining"`
}

// ParticipantTally reports how many lots a participant has won so far,
// used by the completion check after each adjudication.
type ParticipantTally struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	ItemsWon      int    `json:"itemsWon"`
	MaxItems      int    `json:"maxItems"`
}
