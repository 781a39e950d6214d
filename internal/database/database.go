package database

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/galarux/subastapp/configs"
	"github.com/galarux/subastapp/pkg/types"
)

// ErrNotFound is returned when a participant or item does not exist.
var ErrNotFound = errors.New("record not found")

// Service is the ledger the auction coordinator reads and writes through.
// Participants, items and the append-only bid log are durable state; the
// singleton auction state row records the lot currently up for bid.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// PARTICIPANT METHODS
	GetParticipant(ctx context.Context, id string) (types.Participant, error)
	GetParticipantByEmail(ctx context.Context, email string) (types.Participant, error)
	// ListParticipants returns every participant ordered by rotation order.
	ListParticipants(ctx context.Context) ([]types.Participant, error)
	SetWithdrawn(ctx context.Context, id string, withdrawn bool) error
	ResetWithdrawals(ctx context.Context) error

	// ITEM METHODS
	GetItem(ctx context.Context, id string) (types.Item, error)

	// BID METHODS
	GetBidsForItem(ctx context.Context, itemID string) ([]types.Bid, error)
	// GetLeadingBid returns the highest bid for the item, earliest first on
	// amount ties, or nil when no bid exists.
	GetLeadingBid(ctx context.Context, itemID string) (*types.Bid, error)

	// AUCTION STATE METHODS
	GetAuctionState(ctx context.Context) (types.AuctionState, error)
	SaveAuctionState(ctx context.Context, state types.AuctionState) error

	// ItemsWonTallies reports won-lot counts per participant for the
	// completion check.
	ItemsWonTallies(ctx context.Context) ([]types.ParticipantTally, error)

	// TRANSITION METHODS. Each commits atomically or not at all, so the
	// coordinator never emits a success event over half-persisted state.

	// OpenLot debits the nominator by the item's starting price, records
	// the opening bid, clears every withdrawn flag and activates the
	// auction state for the item.
	OpenLot(ctx context.Context, item types.Item, opening types.Bid, countdownSeconds int) error
	// RecordBid debits the bidder and appends the bid, returning the
	// bidder's refreshed row. The debit is guarded against overdraft.
	RecordBid(ctx context.Context, bid types.Bid) (types.Participant, error)
	// CloseLot marks the item auctioned with its winner, deactivates the
	// auction state carrying the next turn, and clears withdrawn flags.
	CloseLot(ctx context.Context, itemID, winnerID string, nextTurn int) error
}

// New selects a Service implementation from the configured driver.
func New(cfg *configs.Config) Service {
	switch cfg.Database.Driver {
	case "memory":
		log.Info("Using in-memory ledger store")
		return NewMemory()
	default:
		return NewPostgres(cfg)
	}
}
