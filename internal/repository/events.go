package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
	mpsql "github.com/leafsii/marketplace/sql"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// OpenPostgres opens and pings a pgx-backed database/sql pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(mpsql.Migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// EventQuery selects archived events. Empty fields do not filter. Participant
// matches the actor, the counterparty or the seller of the trading involved.
type EventQuery struct {
	Collection  marketplace.Address
	AssetID     string
	Participant marketplace.Address
	Type        marketplace.EventType
	Limit       int
	Cursor      string
}

// EventRepository archives marketplace events in postgres.
type EventRepository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewEventRepository(db *sql.DB, logger *zap.SugaredLogger) *EventRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventRepository{db: db, logger: logger}
}

const insertEvent = `
	INSERT INTO marketplace_events (id, type, actor, at, collection, asset_id, counterparty, seller, currency, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING
`

func eventArgs(ev marketplace.Event) ([]interface{}, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	var seller string
	if ev.Record != nil {
		seller = ev.Record.Seller.String()
	}
	return []interface{}{
		ev.ID,
		string(ev.Type),
		ev.Actor.String(),
		ev.At,
		ev.Collection.String(),
		ev.AssetID,
		ev.Counterparty.String(),
		seller,
		ev.Currency.String(),
		payload,
	}, nil
}

// Append stores ev. Re-delivering the same event id is a no-op.
func (r *EventRepository) Append(ctx context.Context, ev marketplace.Event) error {
	args, err := eventArgs(ev)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertEvent, args...); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (r *EventRepository) AppendBatch(ctx context.Context, events []marketplace.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		args, err := eventArgs(ev)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Stored batch of events", "count", len(events))
	return nil
}

// buildEventQuery renders q as SQL. Pages go newest first; the cursor is the
// sequence number of the last event of the previous page.
func buildEventQuery(q EventQuery) (string, []interface{}, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Collection != "" {
		where = append(where, "collection = "+arg(q.Collection.String()))
	}
	if q.AssetID != "" {
		where = append(where, "asset_id = "+arg(q.AssetID))
	}
	if q.Participant != "" {
		p := arg(q.Participant.String())
		where = append(where, fmt.Sprintf("(actor = %s OR counterparty = %s OR seller = %s)", p, p, p))
	}
	if q.Type != "" {
		where = append(where, "type = "+arg(string(q.Type)))
	}
	if q.Cursor != "" {
		seq, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil || seq <= 0 {
			return "", nil, 0, fmt.Errorf("invalid cursor %q", q.Cursor)
		}
		where = append(where, "seq < "+arg(seq))
	}

	var b strings.Builder
	b.WriteString("SELECT seq, payload FROM marketplace_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq DESC LIMIT ")
	b.WriteString(arg(limit + 1))
	return b.String(), args, limit, nil
}

// Query returns one page of events and the cursor of the next page, empty
// when there is none.
func (r *EventRepository) Query(ctx context.Context, q EventQuery) ([]marketplace.Event, string, error) {
	query, args, limit, err := buildEventQuery(q)
	if err != nil {
		return nil, "", err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]marketplace.Event, 0, limit)
	var (
		lastSeq int64
		hasMore bool
	)
	for rows.Next() {
		if len(events) >= limit {
			hasMore = true
			break
		}
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, "", fmt.Errorf("failed to scan event: %w", err)
		}
		var ev marketplace.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal event %d: %w", seq, err)
		}
		events = append(events, ev)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("row iteration error: %w", err)
	}

	var next string
	if hasMore {
		next = strconv.FormatInt(lastSeq, 10)
	}
	return events, next, nil
}

// Ping checks the database connection.
func (r *EventRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
