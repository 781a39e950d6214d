package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/galarux/subastapp/pkg/types"
)

// Memory is an in-process Service used by tests and by the "memory"
// database driver in development.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]types.Participant
	items        map[string]types.Item
	bids         []types.Bid
	state        types.AuctionState
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]types.Participant),
		items:        make(map[string]types.Item),
		state:        types.AuctionState{CurrentTurn: 1},
	}
}

// SeedParticipant inserts or replaces a participant row.
func (m *Memory) SeedParticipant(p types.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = p
}

// SeedItem inserts or replaces an item row.
func (m *Memory) SeedItem(it types.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

func (m *Memory) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetParticipant(ctx context.Context, id string) (types.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return types.Participant{}, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) GetParticipantByEmail(ctx context.Context, email string) (types.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants {
		if p.Email == email {
			return p, nil
		}
	}
	return types.Participant{}, fmt.Errorf("participant %s: %w", email, ErrNotFound)
}

func (m *Memory) ListParticipants(ctx context.Context) ([]types.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *Memory) SetWithdrawn(ctx context.Context, id string, withdrawn bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	p.Withdrawn = withdrawn
	m.participants[id] = p
	return nil
}

func (m *Memory) ResetWithdrawals(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetWithdrawalsLocked()
	return nil
}

func (m *Memory) resetWithdrawalsLocked() {
	for id, p := range m.participants {
		p.Withdrawn = false
		m.participants[id] = p
	}
}

func (m *Memory) GetItem(ctx context.Context, id string) (types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return types.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return it, nil
}

func (m *Memory) GetBidsForItem(ctx context.Context, itemID string) ([]types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Bid
	for _, b := range m.bids {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) GetLeadingBid(ctx context.Context, itemID string) (*types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leadingBidLocked(itemID), nil
}

func (m *Memory) leadingBidLocked(itemID string) *types.Bid {
	var lead *types.Bid
	for i := range m.bids {
		b := m.bids[i]
		if b.ItemID != itemID {
			continue
		}
		// Highest amount wins; the earlier bid keeps the lead on ties.
		if lead == nil || b.Amount > lead.Amount ||
			(b.Amount == lead.Amount && b.CreatedAt.Before(lead.CreatedAt)) {
			lead = &b
		}
	}
	if lead == nil {
		return nil
	}
	cp := *lead
	return &cp
}

func (m *Memory) GetAuctionState(ctx context.Context) (types.AuctionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *Memory) SaveAuctionState(ctx context.Context, state types.AuctionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

func (m *Memory) ItemsWonTallies(ctx context.Context) ([]types.ParticipantTally, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	won := make(map[string]int)
	for _, it := range m.items {
		if it.Auctioned && it.WinnerID != nil {
			won[*it.WinnerID]++
		}
	}
	var out []types.ParticipantTally
	for _, p := range m.participants {
		out = append(out, types.ParticipantTally{
			ParticipantID: p.ID,
			Name:          p.Name,
			ItemsWon:      won[p.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (m *Memory) OpenLot(ctx context.Context, item types.Item, opening types.Bid, countdownSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nominator, ok := m.participants[opening.BidderID]
	if !ok {
		return fmt.Errorf("participant %s: %w", opening.BidderID, ErrNotFound)
	}
	if nominator.Credits < opening.Amount {
		return fmt.Errorf("participant %s cannot cover opening bid of %d", nominator.ID, opening.Amount)
	}

	nominator.Credits -= opening.Amount
	m.participants[nominator.ID] = nominator
	m.bids = append(m.bids, opening)
	m.resetWithdrawalsLocked()

	itemID := item.ID
	m.state.CurrentItemID = &itemID
	m.state.Active = true
	m.state.TimeRemaining = countdownSeconds
	return nil
}

func (m *Memory) RecordBid(ctx context.Context, bid types.Bid) (types.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bidder, ok := m.participants[bid.BidderID]
	if !ok {
		return types.Participant{}, fmt.Errorf("participant %s: %w", bid.BidderID, ErrNotFound)
	}
	if bidder.Credits < bid.Amount {
		return types.Participant{}, fmt.Errorf("participant %s cannot cover bid of %d", bidder.ID, bid.Amount)
	}

	bidder.Credits -= bid.Amount
	m.participants[bidder.ID] = bidder
	m.bids = append(m.bids, bid)
	return bidder, nil
}

func (m *Memory) CloseLot(ctx context.Context, itemID, winnerID string, nextTurn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	it.Auctioned = true
	it.WinnerID = &winnerID
	m.items[itemID] = it

	m.state.CurrentItemID = nil
	m.state.Active = false
	m.state.TimeRemaining = 0
	m.state.CurrentTurn = nextTurn
	m.resetWithdrawalsLocked()
	return nil
}
