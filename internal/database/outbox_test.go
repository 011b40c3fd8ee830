package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEvent_Validate(t *testing.T) {
	valid := func() *OutboxEvent {
		return &OutboxEvent{
			AggregateType: "import_job",
			AggregateID:   "B0TESTAAA1",
			EventType:     "PRODUCT_FETCHED",
			Payload:       json.RawMessage(`{}`),
		}
	}

	require.NoError(t, valid().validate())

	tests := []struct {
		name   string
		mutate func(*OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"empty payload", func(e *OutboxEvent) { e.Payload = nil }},
		{"malformed payload", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{"a":`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			assert.Error(t, e.validate())
		})
	}
}

func TestCalculateNextRetryTime(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{64, 300 * time.Second},
	}

	for _, tt := range tests {
		before := time.Now()
		got := calculateNextRetryTime(tt.retryCount)
		assert.WithinDuration(t, before.Add(tt.want), got, time.Second, "retry %d", tt.retryCount)
	}
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, nextStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextStatus(MaxRetryCount))
}

func TestOutboxRepository_Integration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("insert commits with the transaction", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "import_job",
			AggregateID:   uuid.NewString(),
			EventType:     "PRODUCT_FETCHED",
			Payload:       json.RawMessage(`{"asin":"B0TESTAAA1"}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultTargetStream, event.TargetStream)

		pending, err := repo.GetPending(ctx, 1000)
		require.NoError(t, err)
		assert.True(t, containsEvent(pending, event.ID))
	})

	t.Run("rolled back insert is not visible", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "import_job",
			AggregateID:   uuid.NewString(),
			EventType:     "PRODUCT_FETCHED",
			Payload:       json.RawMessage(`{}`),
		}

		rollback := errors.New("rollback")
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return rollback
		})
		require.ErrorIs(t, err, rollback)

		pending, err := repo.GetPending(ctx, 1000)
		require.NoError(t, err)
		assert.False(t, containsEvent(pending, event.ID))
	})

	t.Run("failed events move to dead letter", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "import_job",
			AggregateID:   uuid.NewString(),
			EventType:     "PRODUCT_FETCHED",
			Payload:       json.RawMessage(`{}`),
		}
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		}))

		for i := 0; i < MaxRetryCount; i++ {
			require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
		}

		var status string
		var retryCount int
		err := db.QueryRow(ctx, "SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).
			Scan(&status, &retryCount)
		require.NoError(t, err)
		assert.Equal(t, OutboxStatusDeadLetter, status)
		assert.Equal(t, MaxRetryCount, retryCount)
	})

	t.Run("unknown ids are reported", func(t *testing.T) {
		assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrEventNotFound)
		assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), errors.New("x")), ErrEventNotFound)
	})
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to the database described by the DB_* variables and
// applies the schema. The test is skipped unless INTEGRATION_TEST=true.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("set INTEGRATION_TEST=true to run database tests")
	}

	port, _ := strconv.Atoi(envOr("DB_PORT", "5432"))
	cfg := Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "product_fetcher_test"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
