package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/storage"
	"github.com/Veraticus/spice-suggest/internal/testutil"
)

var topics = storage.OutboxTopics{Events: "spice.suggestion_events", Feedback: "spice.feedback"}

func setupOutbox(t *testing.T, events ...string) *testutil.TestDB {
	t.Helper()
	db := testutil.SetupTestDB(t, storage.WithOutbox(topics))
	db.SeedTransactions(testutil.Transaction("txn-1", "TARGET STORE", -12))

	for _, id := range events {
		require.NoError(t, db.Storage.SaveSuggestionEvent(context.Background(), &model.SuggestionEvent{
			ID:            id,
			TxnID:         "txn-1",
			TenantID:      "tenant-a",
			Mode:          model.ModeHeuristic,
			RequestedMode: model.ModeAuto,
			Source:        model.SourceHeuristic,
			Candidates:    model.Candidates{},
		}))
	}
	return db
}

func outboxStatus(t *testing.T, db *testutil.TestDB, key string) (string, int) {
	t.Helper()
	var status string
	var retries int
	require.NoError(t, db.Storage.DB().QueryRow(
		`SELECT status, retry_count FROM outbox_messages WHERE message_key = ?`, key,
	).Scan(&status, &retries))
	return status, retries
}

func containsEventID(id string) mocks.ValueChecker {
	return func(val []byte) error {
		if !bytes.Contains(val, []byte(fmt.Sprintf(`"event_id":%q`, id))) {
			return fmt.Errorf("payload %s does not carry event %s", val, id)
		}
		return nil
	}
}

func TestRelay_FlushDeliversInOrder(t *testing.T) {
	db := setupOutbox(t, "evt-1", "evt-2")
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(containsEventID("evt-1"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(containsEventID("evt-2"))

	relay := NewRelay(db.Storage, producer, metrics.New(), Config{})
	sent, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	pending, err := db.Storage.GetPendingOutbox(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	status, _ := outboxStatus(t, db, "evt-1")
	assert.Equal(t, model.OutboxStatusSent, status)

	require.NoError(t, relay.Close())
}

func TestRelay_RetriesThenParksFailedMessages(t *testing.T) {
	db := setupOutbox(t, "evt-1")
	producer := mocks.NewSyncProducer(t, nil)
	broker := errors.New("broker unavailable")
	producer.ExpectSendMessageAndFail(broker)
	producer.ExpectSendMessageAndFail(broker)

	relay := NewRelay(db.Storage, producer, nil, Config{MaxRetries: 2})
	ctx := context.Background()

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	status, retries := outboxStatus(t, db, "evt-1")
	assert.Equal(t, model.OutboxStatusPending, status)
	assert.Equal(t, 1, retries)

	_, err = relay.Flush(ctx)
	require.NoError(t, err)
	status, retries = outboxStatus(t, db, "evt-1")
	assert.Equal(t, model.OutboxStatusFailed, status)
	assert.Equal(t, 2, retries)

	// Parked messages are not picked up again.
	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	require.NoError(t, relay.Close())
}

func TestRelay_StartStopsWithContext(t *testing.T) {
	db := setupOutbox(t, "evt-1")
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	relay := NewRelay(db.Storage, producer, nil, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	assert.Eventually(t, func() bool {
		status, _ := outboxStatus(t, db, "evt-1")
		return status == model.OutboxStatusSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	require.NoError(t, relay.Close())
}

func TestRelay_MessageShape(t *testing.T) {
	db := setupOutbox(t, "evt-1")
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topics.Events {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "evt-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		return nil
	})

	relay := NewRelay(db.Storage, producer, nil, Config{})
	_, err := relay.Flush(context.Background())
	require.NoError(t, err)
	require.NoError(t, relay.Close())
}
