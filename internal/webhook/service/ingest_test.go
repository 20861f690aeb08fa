package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/queue"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
	webhookrepository "github.com/subledger-io/subledger/internal/webhook/repository"
	"github.com/subledger-io/subledger/internal/webhook/signature"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ingestFixture struct {
	ingest   *Ingest
	db       *gorm.DB
	redis    *miniredis.Miniredis
	client   *redis.Client
	verifier *signature.Verifier
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&webhookdomain.WebhookEvent{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	verifier := signature.NewVerifier(testSecret)
	ingest := NewIngest(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.Fixed{T: testNow},
		Verifier: verifier,
		Repo:     webhookrepository.Provide(),
		Queue:    queue.New(client, zap.NewNop(), queue.Options{}),
	})
	return &ingestFixture{ingest: ingest, db: db, redis: mr, client: client, verifier: verifier}
}

func (f *ingestFixture) eventBody(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": testNow.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func (f *ingestFixture) queueDepth(t *testing.T) int64 {
	t.Helper()
	n, err := f.client.LLen(context.Background(), "billing:queue").Result()
	require.NoError(t, err)
	return n
}

func TestReceiveRejectsEmptyBody(t *testing.T) {
	f := newIngestFixture(t)
	_, err := f.ingest.Receive(context.Background(), nil, "whatever")
	assert.ErrorIs(t, err, webhookdomain.ErrEmptyBody)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	f := newIngestFixture(t)
	body := f.eventBody(t, "evt_1", webhookdomain.EventTypePaymentSucceeded, map[string]any{})

	_, err := f.ingest.Receive(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidSignature)

	_, err = f.ingest.Receive(context.Background(), body, "")
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidSignature)

	// Nothing recorded, nothing queued.
	var count int64
	require.NoError(t, f.db.Model(&webhookdomain.WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
	assert.EqualValues(t, 0, f.queueDepth(t))
}

func TestReceiveRejectsMalformedEnvelope(t *testing.T) {
	f := newIngestFixture(t)

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"payment_intent.succeeded","data":{"object":{}}}`),
		[]byte(`{"id":"evt_x","data":{"object":{}}}`),
		[]byte(`{"id":"evt_x","type":"payment_intent.succeeded"}`),
	} {
		_, err := f.ingest.Receive(context.Background(), body, f.verifier.Sign(body))
		assert.ErrorIs(t, err, webhookdomain.ErrMalformedEvent)
	}
}

func TestReceiveRecordsAndEnqueues(t *testing.T) {
	f := newIngestFixture(t)
	body := f.eventBody(t, "evt_ok", webhookdomain.EventTypePaymentSucceeded, map[string]any{
		"id":              "pi_1",
		"customer":        "cus_1",
		"amount_received": 2900,
		"currency":        "usd",
		"metadata": map[string]any{
			"organizationId": "12345",
			"plan":           "PRO",
			"durationInDays": "30",
		},
	})

	result, err := f.ingest.Receive(context.Background(), body, f.verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, "evt_ok", result.EventID)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Unhandled)

	var row webhookdomain.WebhookEvent
	require.NoError(t, f.db.First(&row, "id = ?", "evt_ok").Error)
	assert.Equal(t, webhookdomain.StatusPending, row.Status)

	var payload webhookdomain.JobPayload
	require.NoError(t, json.Unmarshal(row.Payload, &payload))
	assert.Equal(t, webhookdomain.KindPaymentSucceeded, payload.Kind)

	cmd, err := payload.DecodeCommand()
	require.NoError(t, err)
	ps, ok := cmd.(webhookdomain.PaymentSucceeded)
	require.True(t, ok)
	assert.EqualValues(t, 12345, ps.OrganizationID)
	assert.Equal(t, "PRO", ps.Plan)
	assert.Equal(t, 30, ps.DurationDays)
	assert.Equal(t, "pi_1", ps.ProviderPaymentID)
	assert.Equal(t, int64(2900), ps.AmountCents)

	assert.EqualValues(t, 1, f.queueDepth(t))
}

func TestReceiveAbsorbsDuplicateDelivery(t *testing.T) {
	f := newIngestFixture(t)
	body := f.eventBody(t, "evt_dup", webhookdomain.EventTypePaymentSucceeded, map[string]any{
		"metadata": map[string]any{"organizationId": "1"},
	})
	sig := f.verifier.Sign(body)

	first, err := f.ingest.Receive(context.Background(), body, sig)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.ingest.Receive(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	var count int64
	require.NoError(t, f.db.Model(&webhookdomain.WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 1, f.queueDepth(t))
}

func TestReceiveRecordsUnhandledType(t *testing.T) {
	f := newIngestFixture(t)
	body := f.eventBody(t, "evt_other", "charge.refunded", map[string]any{})

	result, err := f.ingest.Receive(context.Background(), body, f.verifier.Sign(body))
	require.NoError(t, err)
	assert.True(t, result.Unhandled)

	var row webhookdomain.WebhookEvent
	require.NoError(t, f.db.First(&row, "id = ?", "evt_other").Error)
	assert.Equal(t, webhookdomain.StatusUnhandled, row.Status)
	assert.EqualValues(t, 0, f.queueDepth(t))
}

func TestReplayRequeuesFailedEvent(t *testing.T) {
	f := newIngestFixture(t)

	payload, err := webhookdomain.NewJobPayload("evt_failed", webhookdomain.EventTypePaymentSucceeded,
		webhookdomain.PaymentSucceeded{OrganizationID: 1, Plan: "PRO", DurationDays: 30})
	require.NoError(t, err)
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)

	reason := "boom"
	failedAt := testNow.Add(-time.Hour)
	require.NoError(t, f.db.Create(&webhookdomain.WebhookEvent{
		ID:           "evt_failed",
		Type:         webhookdomain.EventTypePaymentSucceeded,
		Status:       webhookdomain.StatusFailed,
		Payload:      datatypes.JSON(encoded),
		ErrorMessage: &reason,
		ReceivedAt:   testNow.Add(-2 * time.Hour),
		FailedAt:     &failedAt,
	}).Error)

	require.NoError(t, f.ingest.Replay(context.Background(), "evt_failed"))

	var row webhookdomain.WebhookEvent
	require.NoError(t, f.db.First(&row, "id = ?", "evt_failed").Error)
	assert.Equal(t, webhookdomain.StatusPending, row.Status)
	assert.Nil(t, row.ErrorMessage)
	assert.Nil(t, row.FailedAt)

	assert.EqualValues(t, 1, f.queueDepth(t))

	failed, err := f.ingest.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestReplayRestoresFailedStatusWhenEnqueueFails(t *testing.T) {
	f := newIngestFixture(t)

	payload, err := webhookdomain.NewJobPayload("evt_stuck", webhookdomain.EventTypePaymentSucceeded,
		webhookdomain.PaymentSucceeded{OrganizationID: 1, Plan: "PRO", DurationDays: 30})
	require.NoError(t, err)
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)

	reason := "boom"
	failedAt := testNow.Add(-time.Hour)
	require.NoError(t, f.db.Create(&webhookdomain.WebhookEvent{
		ID:           "evt_stuck",
		Type:         webhookdomain.EventTypePaymentSucceeded,
		Status:       webhookdomain.StatusFailed,
		Payload:      datatypes.JSON(encoded),
		ErrorMessage: &reason,
		ReceivedAt:   testNow.Add(-2 * time.Hour),
		FailedAt:     &failedAt,
	}).Error)

	f.redis.Close()

	require.Error(t, f.ingest.Replay(context.Background(), "evt_stuck"))

	// The row went back to FAILED, so a later replay can still pick it up.
	var row webhookdomain.WebhookEvent
	require.NoError(t, f.db.First(&row, "id = ?", "evt_stuck").Error)
	assert.Equal(t, webhookdomain.StatusFailed, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "replay enqueue")
	require.NotNil(t, row.FailedAt)
}

func TestReplayRejectsNonFailedAndMissing(t *testing.T) {
	f := newIngestFixture(t)

	require.NoError(t, f.db.Create(&webhookdomain.WebhookEvent{
		ID:         "evt_done",
		Type:       webhookdomain.EventTypePaymentSucceeded,
		Status:     webhookdomain.StatusProcessed,
		Payload:    datatypes.JSON(`{"event_id":"evt_done"}`),
		ReceivedAt: testNow,
	}).Error)

	assert.ErrorIs(t, f.ingest.Replay(context.Background(), "evt_done"), webhookdomain.ErrNotReplayable)
	assert.ErrorIs(t, f.ingest.Replay(context.Background(), "evt_missing"), webhookdomain.ErrEventNotFound)
	assert.EqualValues(t, 0, f.queueDepth(t))
}
