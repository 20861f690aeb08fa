package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/config"
	organizationdomain "github.com/subledger-io/subledger/internal/organization/domain"
	organizationservice "github.com/subledger-io/subledger/internal/organization/service"
	"github.com/subledger-io/subledger/internal/queue"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	subscriptionrepository "github.com/subledger-io/subledger/internal/subscription/repository"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	usagerepository "github.com/subledger-io/subledger/internal/usage/repository"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
	webhookrepository "github.com/subledger-io/subledger/internal/webhook/repository"
	webhookservice "github.com/subledger-io/subledger/internal/webhook/service"
	"github.com/subledger-io/subledger/internal/webhook/signature"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type nopPublisher struct{}

func (nopPublisher) Publish(subscriptiondomain.SubscriptionChanged) {}

type serverFixture struct {
	engine   *gin.Engine
	db       *gorm.DB
	verifier *signature.Verifier
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&organizationdomain.Organization{},
		&subscriptiondomain.Subscription{},
		&usagedomain.OrganizationUsage{},
		&webhookdomain.WebhookEvent{},
	))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fixed := clock.Fixed{T: testNow}
	verifier := signature.NewVerifier(testSecret)

	ingest := webhookservice.NewIngest(webhookservice.Params{
		DB:       db,
		Log:      log,
		Clock:    fixed,
		Verifier: verifier,
		Repo:     webhookrepository.Provide(),
		Queue:    queue.New(client, log, queue.Options{}),
	})

	orgsvc := organizationservice.NewService(organizationservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fixed,
		SubRepo:   subscriptionrepository.Provide(),
		UsageRepo: usagerepository.Provide(),
		Outbox:    nopPublisher{},
	})

	engine := NewEngine(log)
	srv := NewServer(Params{
		Engine: engine,
		Log:    log,
		Cfg:    config.Config{WebhookSigningSecret: testSecret},
		DB:     db,
		Ingest: ingest,
		OrgSvc: orgsvc,
	})
	srv.RegisterRoutes()
	return &serverFixture{engine: engine, db: db, verifier: verifier}
}

func (f *serverFixture) post(path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) signedEvent(t *testing.T, id, eventType string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"data": map[string]any{"object": map[string]any{
			"metadata": map[string]any{"organizationId": "42", "plan": "PRO"},
		}},
	})
	require.NoError(t, err)
	return body, f.verifier.Sign(body)
}

func TestPostWebhookAccepted(t *testing.T) {
	f := newServerFixture(t)
	body, sig := f.signedEvent(t, "evt_http", webhookdomain.EventTypePaymentSucceeded)

	rec := f.post("/webhook/stripe", body, map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.Equal(t, "evt_http", resp["event_id"])
}

func TestPostWebhookBadSignature(t *testing.T) {
	f := newServerFixture(t)
	body, _ := f.signedEvent(t, "evt_http2", webhookdomain.EventTypePaymentSucceeded)

	rec := f.post("/webhook/stripe", body, map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post("/webhook/stripe", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostWebhookEmptyAndMalformed(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post("/webhook/stripe", nil, map[string]string{SignatureHeader: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	garbage := []byte(`{"nope":1}`)
	rec = f.post("/webhook/stripe", garbage, map[string]string{SignatureHeader: f.verifier.Sign(garbage)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLetterListAndReplay(t *testing.T) {
	f := newServerFixture(t)

	reason := "handler exploded"
	failedAt := testNow.Add(-time.Hour)
	require.NoError(t, f.db.Create(&webhookdomain.WebhookEvent{
		ID:           "evt_failed",
		Type:         webhookdomain.EventTypePaymentSucceeded,
		Status:       webhookdomain.StatusFailed,
		Payload:      datatypes.JSON(`{"event_id":"evt_failed","kind":"billing.payment_succeeded","command":{}}`),
		ErrorMessage: &reason,
		ReceivedAt:   testNow.Add(-2 * time.Hour),
		FailedAt:     &failedAt,
	}).Error)

	req := httptest.NewRequest(http.MethodGet, "/webhook/dlq", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evt_failed")

	rec = f.post("/webhook/replay/evt_failed", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Replay of a row that is no longer FAILED conflicts.
	rec = f.post("/webhook/replay/evt_failed", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.post("/webhook/replay/evt_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostOrganization(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post("/organizations", []byte(`{"name":"acme"}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var org organizationdomain.Organization
	require.NoError(t, f.db.First(&org, "name = ?", "acme").Error)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "organization_id = ?", org.ID).Error)
	assert.Equal(t, subscriptiondomain.PlanFree, sub.Plan)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	var usage usagedomain.OrganizationUsage
	require.NoError(t, f.db.First(&usage, "organization_id = ?", org.ID).Error)
	assert.Equal(t, subscriptiondomain.PlanFree.APICallLimit(), usage.Limit)

	rec = f.post("/organizations", []byte(`{}`), map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
