package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galarux/subastapp/pkg/types"
)

func seededMemory() *Memory {
	m := NewMemory()
	m.SeedParticipant(types.Participant{ID: "p1", Name: "Ana", Email: "ana@example.com", Credits: 100, Order: 1})
	m.SeedParticipant(types.Participant{ID: "p2", Name: "Bea", Email: "bea@example.com", Credits: 100, Order: 2})
	m.SeedItem(types.Item{ID: "i1", Name: "Vase", StartingPrice: 10})
	return m
}

func TestMemoryParticipantLookups(t *testing.T) {
	ctx := context.Background()
	m := seededMemory()

	p, err := m.GetParticipant(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Ana", p.Name)

	_, err = m.GetParticipant(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	p, err = m.GetParticipantByEmail(ctx, "bea@example.com")
	require.NoError(t, err)
	require.Equal(t, "p2", p.ID)

	all, err := m.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "p1", all[0].ID)
	require.Equal(t, "p2", all[1].ID)
}

func TestMemoryLeadingBid(t *testing.T) {
	ctx := context.Background()
	m := seededMemory()

	lead, err := m.GetLeadingBid(ctx, "i1")
	require.NoError(t, err)
	require.Nil(t, lead)

	base := time.Now().UTC()
	_, err = m.RecordBid(ctx, types.Bid{ID: "b1", ItemID: "i1", BidderID: "p1", Amount: 10, CreatedAt: base})
	require.NoError(t, err)
	_, err = m.RecordBid(ctx, types.Bid{ID: "b2", ItemID: "i1", BidderID: "p2", Amount: 15, CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	lead, err = m.GetLeadingBid(ctx, "i1")
	require.NoError(t, err)
	require.NotNil(t, lead)
	require.Equal(t, "b2", lead.ID)

	// Equal amounts: the earlier bid keeps the lead.
	_, err = m.RecordBid(ctx, types.Bid{ID: "b3", ItemID: "i1", BidderID: "p1", Amount: 15, CreatedAt: base.Add(2 * time.Second)})
	require.NoError(t, err)
	lead, err = m.GetLeadingBid(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, "b2", lead.ID)

	bids, err := m.GetBidsForItem(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, bids, 3)
}

func TestMemoryRecordBidDebitsAndGuards(t *testing.T) {
	ctx := context.Background()
	m := seededMemory()

	bidder, err := m.RecordBid(ctx, types.Bid{ID: "b1", ItemID: "i1", BidderID: "p1", Amount: 40, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, 60, bidder.Credits)

	// Overdraft attempts leave both the balance and the bid log untouched.
	_, err = m.RecordBid(ctx, types.Bid{ID: "b2", ItemID: "i1", BidderID: "p1", Amount: 61, CreatedAt: time.Now()})
	require.Error(t, err)
	p, _ := m.GetParticipant(ctx, "p1")
	require.Equal(t, 60, p.Credits)
	bids, _ := m.GetBidsForItem(ctx, "i1")
	require.Len(t, bids, 1)
}

func TestMemoryLotTransitions(t *testing.T) {
	ctx := context.Background()
	m := seededMemory()
	require.NoError(t, m.SetWithdrawn(ctx, "p2", true))

	item, _ := m.GetItem(ctx, "i1")
	opening := types.Bid{ID: "b1", ItemID: "i1", BidderID: "p1", Amount: 10, CreatedAt: time.Now()}
	require.NoError(t, m.OpenLot(ctx, item, opening, 12))

	state, err := m.GetAuctionState(ctx)
	require.NoError(t, err)
	require.True(t, state.Active)
	require.NotNil(t, state.CurrentItemID)
	require.Equal(t, "i1", *state.CurrentItemID)
	require.Equal(t, 12, state.TimeRemaining)

	// Opening a lot debits the nominator and clears stale withdrawals.
	p1, _ := m.GetParticipant(ctx, "p1")
	require.Equal(t, 90, p1.Credits)
	p2, _ := m.GetParticipant(ctx, "p2")
	require.False(t, p2.Withdrawn)

	require.NoError(t, m.SetWithdrawn(ctx, "p2", true))
	require.NoError(t, m.CloseLot(ctx, "i1", "p1", 2))

	item, _ = m.GetItem(ctx, "i1")
	require.True(t, item.Auctioned)
	require.NotNil(t, item.WinnerID)
	require.Equal(t, "p1", *item.WinnerID)

	state, _ = m.GetAuctionState(ctx)
	require.False(t, state.Active)
	require.Nil(t, state.CurrentItemID)
	require.Equal(t, 2, state.CurrentTurn)

	p2, _ = m.GetParticipant(ctx, "p2")
	require.False(t, p2.Withdrawn)

	tallies, err := m.ItemsWonTallies(ctx)
	require.NoError(t, err)
	require.Len(t, tallies, 2)
	require.Equal(t, 1, tallies[0].ItemsWon)
	require.Equal(t, 0, tallies[1].ItemsWon)
}

func TestMemoryOpenLotOverdraftGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SeedParticipant(types.Participant{ID: "p1", Credits: 5, Order: 1})
	m.SeedItem(types.Item{ID: "i1", StartingPrice: 10})

	item, _ := m.GetItem(ctx, "i1")
	err := m.OpenLot(ctx, item, types.Bid{ID: "b1", ItemID: "i1", BidderID: "p1", Amount: 10, CreatedAt: time.Now()}, 12)
	require.Error(t, err)

	state, _ := m.GetAuctionState(ctx)
	require.False(t, state.Active)
	p, _ := m.GetParticipant(ctx, "p1")
	require.Equal(t, 5, p.Credits)
}
