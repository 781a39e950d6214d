package auction

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/galarux/subastapp/internal/database"
	"github.com/galarux/subastapp/pkg/errors"
	"github.com/galarux/subastapp/pkg/types"
)

type phase string

const (
	phaseIdle      phase = "idle"
	phaseNominated phase = "nominated"
	phaseActive    phase = "active"
	phaseClosing   phase = "closing"
)

// Config carries the room's auction rules.
type Config struct {
	CountdownSeconds    int
	MinIncrement        int
	ItemsPerParticipant int
}

// Coordinator is the single place that mutates auction state: it owns the
// countdown, validates every nomination, bid and withdrawal against the
// ledger, adjudicates the winner and advances the turn. One mutex guards
// every validate-then-mutate sequence, including the timer expiry path;
// events are published only after the lock is released.
type Coordinator struct {
	store database.Service
	sink  Sink
	cfg   Config
	clock clockwork.Clock

	mu        sync.Mutex
	phase     phase
	countdown *Countdown
	// timerSeq invalidates callbacks from a countdown that was replaced
	// or cancelled while the callback was waiting for the lock.
	timerSeq  uint64
	completed bool
}

func New(store database.Service, sink Sink, cfg Config, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		store:     store,
		sink:      sink,
		cfg:       cfg,
		clock:     clock,
		phase:     phaseIdle,
		countdown: NewCountdown(clock),
	}
}

// Hydrate resumes a lot that was live when the process last stopped: if
// the persisted state is active, the countdown restarts from the stored
// remaining time.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return fmt.Errorf("hydrating auction state: %w", err)
	}
	if !state.Active || state.CurrentItemID == nil {
		return nil
	}

	seconds := state.TimeRemaining
	if seconds <= 0 {
		seconds = c.cfg.CountdownSeconds
	}
	c.phase = phaseActive
	c.startCountdownLocked(seconds)
	log.Infof("Resumed live lot %s with %ds remaining", *state.CurrentItemID, seconds)
	return nil
}

// Stop cancels the countdown. Used at shutdown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.timerSeq++
	c.countdown.Stop()
	c.mu.Unlock()
}

// Nominate puts an item up for bid on behalf of the participant whose
// turn it is. The nominator is debited the starting price as an automatic
// opening bid and the countdown starts at full duration.
func (c *Coordinator) Nominate(ctx context.Context, itemID, nominatorID string) *errors.AppError {
	c.mu.Lock()
	events, appErr := c.nominateLocked(ctx, itemID, nominatorID)
	c.mu.Unlock()
	c.publish(events)
	return appErr
}

func (c *Coordinator) nominateLocked(ctx context.Context, itemID, nominatorID string) ([]Event, *errors.AppError) {
	if c.completed {
		return nil, errors.New(errors.ErrAuctionComplete, "The auction has finished; nominations are closed")
	}
	if c.phase != phaseIdle {
		return nil, errors.New(errors.ErrAuctionActive, "A lot is already up for bid")
	}

	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	nominator, err := c.store.GetParticipant(ctx, nominatorID)
	if err != nil {
		return nil, errors.New(errors.ErrParticipantMissing, "Participant not found")
	}
	if nominator.Order != state.CurrentTurn {
		return nil, errors.New(errors.ErrNotYourTurn, "It is not your turn to nominate")
	}

	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, errors.New(errors.ErrItemNotFound, "Item not found")
	}
	if item.Auctioned {
		return nil, errors.New(errors.ErrItemAuctioned, "Item has already been auctioned")
	}
	if nominator.Credits < item.StartingPrice {
		return nil, errors.New(errors.ErrInsufficientFunds, "Not enough credits to open this lot")
	}

	opening := types.Bid{
		ID:        uuid.NewString(),
		ItemID:    item.ID,
		BidderID:  nominator.ID,
		Amount:    item.StartingPrice,
		CreatedAt: c.clock.Now().UTC(),
	}
	if err := c.store.OpenLot(ctx, item, opening, c.cfg.CountdownSeconds); err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}

	c.phase = phaseNominated
	c.startCountdownLocked(c.cfg.CountdownSeconds)
	log.Infof("Lot opened: %s nominated by %s at %d credits", item.Name, nominator.Name, opening.Amount)

	return []Event{
		{Type: EventAuctionStarted, Data: AuctionStartedData{Item: item, TimeRemaining: c.cfg.CountdownSeconds}},
		{Type: EventNewBid, Data: NewBidData{Bid: opening, BidderCredits: nominator.Credits - opening.Amount}},
	}, nil
}

// PlaceBid validates and records a raise on the current lot. An accepted
// bid debits the bidder, resets the countdown to full duration and may
// close the lot immediately when everyone else has withdrawn.
func (c *Coordinator) PlaceBid(ctx context.Context, itemID, bidderID string, amount int) *errors.AppError {
	c.mu.Lock()
	events, appErr := c.placeBidLocked(ctx, itemID, bidderID, amount)
	c.mu.Unlock()
	c.publish(events)
	return appErr
}

func (c *Coordinator) placeBidLocked(ctx context.Context, itemID, bidderID string, amount int) ([]Event, *errors.AppError) {
	if c.phase != phaseNominated && c.phase != phaseActive {
		return nil, errors.New(errors.ErrNoActiveAuction, "No lot is up for bid")
	}
	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	if state.CurrentItemID == nil || *state.CurrentItemID != itemID {
		return nil, errors.New(errors.ErrNoActiveAuction, "This item is not up for bid")
	}

	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, errors.New(errors.ErrItemNotFound, "Item not found")
	}
	bidder, err := c.store.GetParticipant(ctx, bidderID)
	if err != nil {
		return nil, errors.New(errors.ErrParticipantMissing, "Participant not found")
	}
	leader, err := c.store.GetLeadingBid(ctx, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	if appErr := ValidateBid(amount, bidder, item, leader, c.cfg.MinIncrement); appErr != nil {
		return nil, appErr
	}

	bid := types.Bid{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: c.clock.Now().UTC(),
	}
	bidder, err = c.store.RecordBid(ctx, bid)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}

	c.phase = phaseActive
	c.startCountdownLocked(c.cfg.CountdownSeconds)
	log.Debugf("Bid accepted: %d on %s by %s", amount, item.Name, bidder.Name)

	events := []Event{
		{Type: EventTimeUpdate, Data: TimeUpdateData{TimeRemaining: c.cfg.CountdownSeconds}},
		{Type: EventNewBid, Data: NewBidData{Bid: bid, BidderCredits: bidder.Credits}},
	}

	// A raise can also be the closing move: when every other participant
	// has already withdrawn, the lot closes without waiting out the clock.
	exitEvents, appErr := c.checkEarlyExitLocked(ctx)
	if appErr != nil {
		return events, appErr
	}
	return append(events, exitEvents...), nil
}

// Withdraw marks a participant as out of the running for the current lot.
// The leader cannot withdraw; when everyone but the leader has, the lot
// closes early.
func (c *Coordinator) Withdraw(ctx context.Context, participantID string) *errors.AppError {
	c.mu.Lock()
	events, appErr := c.withdrawLocked(ctx, participantID)
	c.mu.Unlock()
	c.publish(events)
	return appErr
}

func (c *Coordinator) withdrawLocked(ctx context.Context, participantID string) ([]Event, *errors.AppError) {
	if c.phase != phaseNominated && c.phase != phaseActive {
		return nil, errors.New(errors.ErrNoActiveAuction, "No lot is up for bid")
	}
	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	participant, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, errors.New(errors.ErrParticipantMissing, "Participant not found")
	}
	if participant.Withdrawn {
		return nil, errors.New(errors.ErrAlreadyWithdrawn, "You have already withdrawn from this lot")
	}

	if state.CurrentItemID != nil {
		leader, err := c.store.GetLeadingBid(ctx, *state.CurrentItemID)
		if err != nil {
			return nil, errors.Wrap(err, "Internal server error")
		}
		if leader != nil && leader.BidderID == participantID {
			return nil, errors.New(errors.ErrLeaderWithdraw, "The highest bidder cannot withdraw")
		}
	}

	if err := c.store.SetWithdrawn(ctx, participantID, true); err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	log.Debugf("Participant %s withdrew from the current lot", participant.Name)

	return c.checkEarlyExitLocked(ctx)
}

// checkEarlyExitLocked adjudicates immediately when every participant
// except the current leader has withdrawn.
func (c *Coordinator) checkEarlyExitLocked(ctx context.Context) ([]Event, *errors.AppError) {
	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	if state.CurrentItemID == nil {
		return nil, nil
	}
	leader, err := c.store.GetLeadingBid(ctx, *state.CurrentItemID)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	if leader == nil {
		return nil, nil
	}
	participants, err := c.store.ListParticipants(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}
	for _, p := range participants {
		if p.ID != leader.BidderID && !p.Withdrawn {
			return nil, nil
		}
	}

	log.Info("All non-leading participants withdrew; closing the lot early")
	c.timerSeq++
	c.countdown.Stop()
	return c.adjudicateLocked(ctx)
}

// adjudicateLocked closes the current lot: awards it to the leading
// bidder, deactivates the state, advances the turn and runs the
// completion check. Callers must hold the lock and have stopped the
// countdown.
func (c *Coordinator) adjudicateLocked(ctx context.Context) ([]Event, *errors.AppError) {
	prevPhase := c.phase
	c.phase = phaseClosing

	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}
	if state.CurrentItemID == nil {
		c.phase = phaseIdle
		return nil, nil
	}
	itemID := *state.CurrentItemID

	leader, err := c.store.GetLeadingBid(ctx, itemID)
	if err != nil {
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}
	if leader == nil {
		// Nominate always records an opening bid, so this is an invariant
		// breach; keep the lot open rather than fabricate a winner.
		log.Errorf("No bids found for live lot %s; leaving lot open", itemID)
		c.phase = phaseNominated
		return nil, errors.New(errors.ErrInternalServer, "No bids recorded for the current lot")
	}

	winner, err := c.store.GetParticipant(ctx, leader.BidderID)
	if err != nil {
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}
	// The winning amount was debited when the bid was placed; a negative
	// balance here means the debit accounting broke.
	if winner.Credits < 0 {
		log.Errorf("Leader %s has negative balance %d; refusing to close lot %s", winner.ID, winner.Credits, itemID)
		c.phase = prevPhase
		return nil, errors.New(errors.ErrInternalServer, "Leader balance check failed")
	}

	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}
	participants, err := c.store.ListParticipants(ctx)
	if err != nil {
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}
	nextTurn := NextTurn(participants, state.CurrentTurn)

	if err := c.store.CloseLot(ctx, itemID, winner.ID, nextTurn); err != nil {
		// Nothing committed; do not announce a close the ledger disagrees with.
		log.Error("Error closing lot: ", err)
		c.phase = prevPhase
		return nil, errors.Wrap(err, "Internal server error")
	}

	c.phase = phaseIdle
	winnerID := winner.ID
	item.Auctioned = true
	item.WinnerID = &winnerID

	balances, err := c.store.ListParticipants(ctx)
	if err != nil {
		balances = participants
	}

	log.Infof("Lot closed: %s won by %s for %d credits", item.Name, winner.Name, leader.Amount)
	events := []Event{
		{Type: EventAuctionEnded, Data: AuctionEndedData{
			Message:  fmt.Sprintf("%s has been awarded!", item.Name),
			Item:     item,
			Winner:   winner,
			Amount:   leader.Amount,
			Balances: balances,
		}},
		{Type: EventStateUpdated, Data: StateUpdatedData{Active: false, TimeRemaining: 0}},
		{Type: EventItemCleared, Data: ItemClearedData{Message: "Auction finished"}},
		{Type: EventTurnChanged, Data: TurnChangedData{CurrentTurn: nextTurn}},
	}

	completeEvents := c.checkCompletionLocked(ctx)
	return append(events, completeEvents...), nil
}

// checkCompletionLocked ends the whole auction once any participant has
// won the configured number of items.
func (c *Coordinator) checkCompletionLocked(ctx context.Context) []Event {
	tallies, err := c.store.ItemsWonTallies(ctx)
	if err != nil {
		log.Error("Error checking completion: ", err)
		return nil
	}
	for i := range tallies {
		tallies[i].MaxItems = c.cfg.ItemsPerParticipant
	}
	for _, t := range tallies {
		if t.ItemsWon >= c.cfg.ItemsPerParticipant {
			c.completed = true
			log.Infof("Auction complete: %s filled their roster with %d items", t.Name, t.ItemsWon)
			return []Event{{Type: EventAuctionComplete, Data: AuctionCompleteData{
				Message: fmt.Sprintf("The auction is over! %s completed their roster with %d items", t.Name, t.ItemsWon),
				Winner:  t,
				Stats:   tallies,
			}}}
		}
	}
	return nil
}

// Snapshot builds the events that bring a newly joined client up to date.
func (c *Coordinator) Snapshot(ctx context.Context) ([]Event, *errors.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Internal server error")
	}

	events := []Event{{Type: EventTurnChanged, Data: TurnChangedData{CurrentTurn: state.CurrentTurn}}}
	if state.Active && state.CurrentItemID != nil {
		item, err := c.store.GetItem(ctx, *state.CurrentItemID)
		if err != nil {
			return nil, errors.Wrap(err, "Internal server error")
		}
		events = append(events, Event{Type: EventAuctionStarted, Data: AuctionStartedData{
			Item:          item,
			TimeRemaining: c.countdown.Remaining(),
		}})
	} else {
		events = append(events, Event{Type: EventItemCleared, Data: ItemClearedData{Message: "No auction in progress"}})
	}
	return events, nil
}

// Reset reopens a completed auction and clears any live lot. Admin only;
// this is the external reset that lifts the nomination freeze.
func (c *Coordinator) Reset(ctx context.Context) *errors.AppError {
	c.mu.Lock()
	state, err := c.store.GetAuctionState(ctx)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "Internal server error")
	}
	state.CurrentItemID = nil
	state.Active = false
	state.TimeRemaining = 0
	if err := c.store.SaveAuctionState(ctx, state); err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "Internal server error")
	}
	if err := c.store.ResetWithdrawals(ctx); err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "Internal server error")
	}
	c.completed = false
	c.phase = phaseIdle
	c.timerSeq++
	c.countdown.Stop()
	c.mu.Unlock()

	log.Info("Auction state reset by administrator")
	c.publish([]Event{{Type: EventAuctionReset, Data: AuctionResetData{
		Message:   "The auction has been reset",
		Timestamp: c.clock.Now().UTC(),
	}}})
	return nil
}

func (c *Coordinator) startCountdownLocked(seconds int) {
	c.timerSeq++
	seq := c.timerSeq
	c.countdown.Start(seconds,
		func(remaining int) { c.handleTick(seq, remaining) },
		func() { c.handleExpiry(seq) },
	)
}

func (c *Coordinator) handleTick(seq uint64, remaining int) {
	c.mu.Lock()
	if seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	// Persist the countdown so a restart resumes mid-lot instead of
	// granting a fresh full clock.
	ctx := context.Background()
	if state, err := c.store.GetAuctionState(ctx); err == nil && state.Active {
		state.TimeRemaining = remaining
		if err := c.store.SaveAuctionState(ctx, state); err != nil {
			log.Debug("Error persisting remaining time: ", err)
		}
	}
	c.mu.Unlock()
	c.publish([]Event{{Type: EventTimeUpdate, Data: TimeUpdateData{TimeRemaining: remaining}}})
}

// handleExpiry is the countdown's expiry callback. It takes the same lock
// as every command, so a bid racing the expiry either reset the clock
// first (the sequence check discards this expiry) or the lot closes here
// and the late bid is rejected against the awarded item.
func (c *Coordinator) handleExpiry(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || (c.phase != phaseNominated && c.phase != phaseActive) {
		c.mu.Unlock()
		return
	}
	c.timerSeq++
	events, appErr := c.adjudicateLocked(context.Background())
	c.mu.Unlock()

	if appErr != nil {
		log.Error("Adjudication on expiry failed: ", appErr)
	}
	c.publish(events)
}

func (c *Coordinator) publish(events []Event) {
	if c.sink == nil {
		return
	}
	for _, ev := range events {
		c.sink.Publish(ev)
	}
}
