package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if err := m.Called(ctx, stream, group, start).Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if err := m.Called(ctx, stream, group, ids).Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

// relayMessage builds a stream entry the way the outbox relay writes it.
func relayMessage(t *testing.T, id string, p *ProductFetchedPayload) redis.XMessage {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]any{
		"id":      uuid.NewString(),
		"type":    p.EventType,
		"payload": json.RawMessage(payload),
	})
	require.NoError(t, err)

	return redis.XMessage{ID: id, Values: map[string]any{
		"data":       string(data),
		"event_type": p.EventType,
	}}
}

func testConsumer(client StreamClient, h Handler) *Consumer {
	return NewConsumer(client, ConsumerConfig{Stream: "stream:product_imports", Group: "g", Consumer: "c"}, h,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDecodeMessage(t *testing.T) {
	p := NewProductFetched(uuid.New(), 2, "B0TESTAAA1", scraper.Result{Record: scraper.ProductRecord{ASIN: "B0TESTAAA1"}})

	got, err := DecodeMessage(relayMessage(t, "1-0", p))
	require.NoError(t, err)
	assert.Equal(t, p.JobID, got.JobID)
	assert.Equal(t, 2, got.Position)
	assert.Equal(t, "B0TESTAAA1", got.ASIN)

	_, err = DecodeMessage(redis.XMessage{Values: map[string]any{"event_type": "OTHER"}})
	assert.ErrorIs(t, err, errSkip)

	_, err = DecodeMessage(redis.XMessage{Values: map[string]any{"event_type": "PRODUCT_FETCHED", "data": "{"}})
	assert.Error(t, err)
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()
	p := NewProductFetched(uuid.New(), 0, "B0TESTAAA1", scraper.Result{})

	t.Run("handled events are acknowledged", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:product_imports",
			Messages: []redis.XMessage{relayMessage(t, "1-0", p), {ID: "2-0", Values: map[string]any{"event_type": "OTHER"}}},
		}}, nil)
		client.On("XAck", ctx, "stream:product_imports", "g", []string{"1-0"}).Return(nil)
		client.On("XAck", ctx, "stream:product_imports", "g", []string{"2-0"}).Return(nil)

		var seen []string
		c := testConsumer(client, func(_ context.Context, e *ProductFetchedPayload) error {
			seen = append(seen, e.Input)
			return nil
		})

		require.NoError(t, c.poll(ctx))
		assert.Equal(t, []string{"B0TESTAAA1"}, seen)
		client.AssertExpectations(t)
	})

	t.Run("handler errors leave the message pending", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:product_imports",
			Messages: []redis.XMessage{relayMessage(t, "1-0", p)},
		}}, nil)

		c := testConsumer(client, func(context.Context, *ProductFetchedPayload) error {
			return errors.New("downstream unavailable")
		})

		require.NoError(t, c.poll(ctx))
		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty block is not an error", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		c := testConsumer(client, func(context.Context, *ProductFetchedPayload) error { return nil })
		assert.NoError(t, c.poll(ctx))
	})
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := new(MockStreamClient)
	client.On("XGroupCreateMkStream", ctx, "stream:product_imports", "g", "0").Return(errors.New("BUSYGROUP Consumer Group name already exists"))
	client.On("XReadGroup", ctx, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil, redis.Nil)

	c := testConsumer(client, func(context.Context, *ProductFetchedPayload) error { return nil })
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}
