package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/galarux/subastapp/configs"
	apperrors "github.com/galarux/subastapp/pkg/errors"
	"github.com/galarux/subastapp/pkg/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

type postgres struct {
	db *sql.DB
}

var dbInstance *postgres

func NewPostgres(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal(err)
	}

	dbInstance = &postgres{
		db: db,
	}
	return dbInstance
}

// NewPostgresFromDB wraps an existing connection; integration tests hand
// in a testcontainers-backed *sql.DB here.
func NewPostgresFromDB(db *sql.DB) Service {
	return &postgres{db: db}
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *postgres) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *postgres) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

const participantColumns = `"id", "name", "email", "credits", "rotationOrder", "withdrawn"`

func scanParticipant(row interface{ Scan(...any) error }) (types.Participant, error) {
	var p types.Participant
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Credits, &p.Order, &p.Withdrawn)
	return p, err
}

func (s *postgres) GetParticipant(ctx context.Context, id string) (types.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM public."Participant" WHERE "id" = $1`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("error getting participant by id: %w", err)
	}
	return p, nil
}

func (s *postgres) GetParticipantByEmail(ctx context.Context, email string) (types.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM public."Participant" WHERE "email" = $1`, email)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, fmt.Errorf("participant %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("error getting participant by email: %w", err)
	}
	return p, nil
}

func (s *postgres) ListParticipants(ctx context.Context) ([]types.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM public."Participant" ORDER BY "rotationOrder" ASC`)
	if err != nil {
		return nil, fmt.Errorf("error listing participants: %w", err)
	}
	defer rows.Close()

	var participants []types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over participants: %w", err)
	}
	return participants, nil
}

func (s *postgres) SetWithdrawn(ctx context.Context, id string, withdrawn bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE public."Participant" SET "withdrawn" = $1 WHERE "id" = $2`, withdrawn, id)
	if err != nil {
		return fmt.Errorf("error updating withdrawn flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *postgres) ResetWithdrawals(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE public."Participant" SET "withdrawn" = false WHERE "withdrawn" = true`)
	if err != nil {
		return fmt.Errorf("error resetting withdrawn flags: %w", err)
	}
	return nil
}

func (s *postgres) GetItem(ctx context.Context, id string) (types.Item, error) {
	var it types.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT "id", "name", "startingPrice", "auctioned", "winnerId" FROM public."Item" WHERE "id" = $1`, id).
		Scan(&it.ID, &it.Name, &it.StartingPrice, &it.Auctioned, &it.WinnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Item{}, fmt.Errorf("error getting item by id: %w", err)
	}
	return it, nil
}

func (s *postgres) GetBidsForItem(ctx context.Context, itemID string) ([]types.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT "id", "itemId", "bidderId", "amount", "createdAt" FROM public."Bid" WHERE "itemId" = $1 ORDER BY "createdAt" ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("error getting bids for item: %w", err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var b types.Bid
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

func (s *postgres) GetLeadingBid(ctx context.Context, itemID string) (*types.Bid, error) {
	var b types.Bid
	err := s.db.QueryRowContext(ctx,
		`SELECT "id", "itemId", "bidderId", "amount", "createdAt" FROM public."Bid" WHERE "itemId" = $1 ORDER BY "amount" DESC, "createdAt" ASC LIMIT 1`, itemID).
		Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting leading bid: %w", err)
	}
	return &b, nil
}

func (s *postgres) GetAuctionState(ctx context.Context) (types.AuctionState, error) {
	var st types.AuctionState
	err := s.db.QueryRowContext(ctx,
		`SELECT "currentItemId", "active", "currentTurn", "timeRemaining" FROM public."AuctionState" WHERE "id" = 1`).
		Scan(&st.CurrentItemID, &st.Active, &st.CurrentTurn, &st.TimeRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh database: the room starts idle on the first turn.
		return types.AuctionState{CurrentTurn: 1}, nil
	}
	if err != nil {
		return types.AuctionState{}, fmt.Errorf("error getting auction state: %w", err)
	}
	return st, nil
}

func (s *postgres) SaveAuctionState(ctx context.Context, state types.AuctionState) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO public."AuctionState" ("id", "currentItemId", "active", "currentTurn", "timeRemaining")
        VALUES (1, $1, $2, $3, $4)
        ON CONFLICT ("id") DO UPDATE
        SET "currentItemId" = $1, "active" = $2, "currentTurn" = $3, "timeRemaining" = $4
    `, state.CurrentItemID, state.Active, state.CurrentTurn, state.TimeRemaining)
	if err != nil {
		return apperrors.Wrap(err, "error saving auction state")
	}
	return nil
}

func (s *postgres) ItemsWonTallies(ctx context.Context) ([]types.ParticipantTally, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT p."id", p."name", COUNT(i."id")
        FROM public."Participant" p
        LEFT JOIN public."Item" i ON i."winnerId" = p."id" AND i."auctioned" = true
        GROUP BY p."id", p."name"
        ORDER BY p."id" ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("error counting won items: %w", err)
	}
	defer rows.Close()

	var tallies []types.ParticipantTally
	for rows.Next() {
		var t types.ParticipantTally
		if err := rows.Scan(&t.ParticipantID, &t.Name, &t.ItemsWon); err != nil {
			return nil, fmt.Errorf("error scanning tally: %w", err)
		}
		tallies = append(tallies, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over tallies: %w", err)
	}
	return tallies, nil
}

// OpenLot persists a nomination: opening debit, opening bid, withdrawal
// reset and state activation in one transaction.
func (s *postgres) OpenLot(ctx context.Context, item types.Item, opening types.Bid, countdownSeconds int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := debitTx(ctx, tx, opening.BidderID, opening.Amount); err != nil {
			return err
		}
		if err := insertBidTx(ctx, tx, opening); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE public."Participant" SET "withdrawn" = false WHERE "withdrawn" = true`); err != nil {
			return fmt.Errorf("error resetting withdrawn flags: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO public."AuctionState" ("id", "currentItemId", "active", "currentTurn", "timeRemaining")
            VALUES (1, $1, true, 1, $2)
            ON CONFLICT ("id") DO UPDATE
            SET "currentItemId" = $1, "active" = true, "timeRemaining" = $2
        `, item.ID, countdownSeconds)
		if err != nil {
			return fmt.Errorf("error activating auction state: %w", err)
		}
		return nil
	})
}

// RecordBid persists an accepted bid: guarded debit plus append in one
// transaction.
func (s *postgres) RecordBid(ctx context.Context, bid types.Bid) (types.Participant, error) {
	var bidder types.Participant
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := debitTx(ctx, tx, bid.BidderID, bid.Amount); err != nil {
			return err
		}
		if err := insertBidTx(ctx, tx, bid); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+participantColumns+` FROM public."Participant" WHERE "id" = $1`, bid.BidderID)
		var err error
		bidder, err = scanParticipant(row)
		if err != nil {
			return fmt.Errorf("error reloading bidder: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Participant{}, err
	}
	return bidder, nil
}

// CloseLot persists an adjudication: winner assignment, state deactivation
// with the advanced turn, and withdrawal reset in one transaction.
func (s *postgres) CloseLot(ctx context.Context, itemID, winnerID string, nextTurn int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE public."Item" SET "auctioned" = true, "winnerId" = $1 WHERE "id" = $2 AND "auctioned" = false`,
			winnerID, itemID)
		if err != nil {
			return fmt.Errorf("error marking item auctioned: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return fmt.Errorf("item %s already auctioned or missing: %w", itemID, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE public."AuctionState"
            SET "currentItemId" = NULL, "active" = false, "currentTurn" = $1, "timeRemaining" = 0
            WHERE "id" = 1
        `, nextTurn); err != nil {
			return fmt.Errorf("error deactivating auction state: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE public."Participant" SET "withdrawn" = false WHERE "withdrawn" = true`); err != nil {
			return fmt.Errorf("error resetting withdrawn flags: %w", err)
		}
		return nil
	})
}

func debitTx(ctx context.Context, tx *sql.Tx, participantID string, amount int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE public."Participant" SET "credits" = "credits" - $1 WHERE "id" = $2 AND "credits" >= $1`,
		amount, participantID)
	if err != nil {
		return fmt.Errorf("error debiting participant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("participant %s cannot cover debit of %d", participantID, amount)
	}
	return nil
}

func insertBidTx(ctx context.Context, tx *sql.Tx, bid types.Bid) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO public."Bid" ("id", "itemId", "bidderId", "amount", "createdAt") VALUES ($1, $2, $3, $4, $5)`,
		bid.ID, bid.ItemID, bid.BidderID, bid.Amount, bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating bid: %w", err)
	}
	return nil
}

func (s *postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("Error rolling back transaction: ", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
