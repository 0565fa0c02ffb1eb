package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ruralpay/webhooks/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func processedTransaction(status models.TransactionStatus) *models.Transaction {
	at := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	return &models.Transaction{
		TransactionID:      "txn_1",
		SourceAccount:      "A",
		DestinationAccount: "B",
		Amount:             decimal.NewFromInt(1500),
		Currency:           "INR",
		Status:             status,
		CreatedAt:          at.Add(-30 * time.Second),
		ProcessedAt:        &at,
	}
}

func TestNewTransactionEvent(t *testing.T) {
	processed := NewTransactionEvent(processedTransaction(models.StatusProcessed))
	assert.Equal(t, TypeTransactionProcessed, processed.Type)
	assert.NotEmpty(t, processed.EventID)
	assert.Equal(t, "txn_1", processed.TransactionID)

	failed := NewTransactionEvent(processedTransaction(models.StatusFailed))
	assert.Equal(t, TypeTransactionFailed, failed.Type)
	assert.NotEqual(t, processed.EventID, failed.EventID)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Run("keyed by transaction id", func(t *testing.T) {
		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w}

		event := NewTransactionEvent(processedTransaction(models.StatusProcessed))
		require.NoError(t, p.Publish(context.Background(), event))

		require.Len(t, w.messages, 1)
		msg := w.messages[0]
		assert.Equal(t, "txn_1", string(msg.Key))
		assert.Equal(t, "event_type", msg.Headers[0].Key)
		assert.Equal(t, TypeTransactionProcessed, string(msg.Headers[0].Value))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, "PROCESSED", decoded["status"])
		assert.Equal(t, event.EventID, decoded["event_id"])
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}

		err := p.Publish(context.Background(), NewTransactionEvent(processedTransaction(models.StatusFailed)))
		assert.ErrorContains(t, err, "leader not available")
	})

	t.Run("close", func(t *testing.T) {
		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w}
		require.NoError(t, p.Close())
		assert.True(t, w.closed)
	})
}
