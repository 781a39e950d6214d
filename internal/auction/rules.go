package auction

import (
	"fmt"

	"github.com/galarux/subastapp/pkg/errors"
	"github.com/galarux/subastapp/pkg/types"
)

// MinimumBid computes the smallest acceptable amount for an item. With no
// standing bid the lot opens at its starting price; afterwards every raise
// must beat the leader by at least the configured increment.
func MinimumBid(item types.Item, leader *types.Bid, increment int) int {
	if leader == nil {
		return item.StartingPrice
	}
	return leader.Amount + increment
}

// ValidateBid decides whether a submission is acceptable. Pure: it reads
// its arguments and mutates nothing.
func ValidateBid(amount int, bidder types.Participant, item types.Item, leader *types.Bid, increment int) *errors.AppError {
	if item.Auctioned {
		return errors.New(errors.ErrItemAuctioned, "Item has already been auctioned")
	}
	if leader != nil && leader.BidderID == bidder.ID {
		return errors.New(errors.ErrLeaderCannotRaise, "You already hold the highest bid")
	}
	minimum := MinimumBid(item, leader, increment)
	if amount < minimum {
		return errors.New(errors.ErrBidTooLow,
			fmt.Sprintf("Bid must be at least %d credits", minimum)).WithMinimum(minimum)
	}
	if bidder.Credits < amount {
		return errors.New(errors.ErrInsufficientFunds, "Not enough credits for this bid")
	}
	return nil
}
