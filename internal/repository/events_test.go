package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEventQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     EventQuery
		wantSQL   string
		wantArgs  []interface{}
		wantLimit int
		wantErr   bool
	}{
		{
			name:      "no filters uses default page",
			query:     EventQuery{},
			wantSQL:   "SELECT seq, payload FROM marketplace_events ORDER BY seq DESC LIMIT $1",
			wantArgs:  []interface{}{DefaultPageSize + 1},
			wantLimit: DefaultPageSize,
		},
		{
			name:      "asset with cursor",
			query:     EventQuery{Collection: collection, AssetID: "7", Cursor: "120", Limit: 10},
			wantSQL:   "SELECT seq, payload FROM marketplace_events WHERE collection = $1 AND asset_id = $2 AND seq < $3 ORDER BY seq DESC LIMIT $4",
			wantArgs:  []interface{}{collection.String(), "7", int64(120), 11},
			wantLimit: 10,
		},
		{
			name:      "participant and type",
			query:     EventQuery{Participant: seller, Type: marketplace.EventTradingSold, Limit: 5000},
			wantSQL:   "SELECT seq, payload FROM marketplace_events WHERE (actor = $1 OR counterparty = $1 OR seller = $1) AND type = $2 ORDER BY seq DESC LIMIT $3",
			wantArgs:  []interface{}{seller.String(), "TRADING_SOLD", MaxPageSize + 1},
			wantLimit: MaxPageSize,
		},
		{
			name:    "bad cursor",
			query:   EventQuery{Cursor: "abc"},
			wantErr: true,
		},
		{
			name:    "negative cursor",
			query:   EventQuery{Cursor: "-4"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, limit, err := buildEventQuery(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestEventArgsCarriesSeller(t *testing.T) {
	ev := marketplace.Event{
		ID:     uuid.New(),
		Type:   marketplace.EventTradingSold,
		Actor:  buyer,
		Record: &marketplace.TradingRecord{Collection: collection, AssetID: "1", Seller: seller},
	}
	args, err := eventArgs(ev)
	require.NoError(t, err)
	require.Len(t, args, 10)
	assert.Equal(t, seller.String(), args[7])
}

func TestEventRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("MP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MP_TEST_POSTGRES_DSN not set, skipping postgres tests")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))
	_, err = db.ExecContext(ctx, "TRUNCATE marketplace_events")
	require.NoError(t, err)

	repo := NewEventRepository(db, nil)
	require.NoError(t, repo.Ping(ctx))

	at := time.Now().UTC().Truncate(time.Second)
	record := &marketplace.TradingRecord{Collection: collection, AssetID: "1", Seller: seller, Price: 100, Currency: token}
	created := marketplace.Event{ID: uuid.New(), Type: marketplace.EventTradingCreated, Actor: seller, At: at, Collection: collection, AssetID: "1", Record: record}
	sold := marketplace.Event{ID: uuid.New(), Type: marketplace.EventTradingSold, Actor: buyer, At: at, Collection: collection, AssetID: "1", Record: record, Counterparty: buyer, Amount: 100, Fee: 15}
	other := marketplace.Event{ID: uuid.New(), Type: marketplace.EventCurrencyAdded, Actor: admin, At: at, Currency: token}

	require.NoError(t, repo.Append(ctx, created))
	require.NoError(t, repo.AppendBatch(ctx, []marketplace.Event{sold, other}))
	// duplicate delivery is ignored
	require.NoError(t, repo.Append(ctx, sold))

	page, next, err := repo.Query(ctx, EventQuery{Collection: collection, AssetID: "1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, sold.ID, page[0].ID)
	require.NotEmpty(t, next)

	page, next, err = repo.Query(ctx, EventQuery{Collection: collection, AssetID: "1", Limit: 1, Cursor: next})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, created.ID, page[0].ID)
	assert.Empty(t, next)

	page, _, err = repo.Query(ctx, EventQuery{Participant: seller})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, _, err = repo.Query(ctx, EventQuery{Type: marketplace.EventCurrencyAdded})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, token, page[0].Currency)
}
