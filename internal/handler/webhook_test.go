package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository/memstore"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/webhook"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const dialogPayload = `{
  "contacts": [{"profile": {"name": "Amina"}, "wa_id": "212661976863"}],
  "messages": [{
    "from": "212661976863",
    "to": "212661976864",
    "id": "wamid.HBgMMjEyNjYxOTc2ODYz",
    "timestamp": "1717245296",
    "type": "text",
    "text": {"body": "Bonjour"}
  }]
}`

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []model.Job
}

func (p *recordingPublisher) Publish(_ context.Context, job model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) published() []model.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Job(nil), p.jobs...)
}

type webhookFixture struct {
	router    http.Handler
	store     *memstore.Store
	publisher *recordingPublisher
	logs      *observer.ObservedLogs
}

func newWebhookFixture(t *testing.T, cfg WebhookConfig) *webhookFixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.Wrap(zap.New(core))
	emitter := events.NewEmitter(log)

	store := memstore.New()
	store.AddTenant(model.Tenant{ID: "tenant-a", Name: "Acme", DailyMessageLimit: 100})
	store.AddChannel(model.Channel{ID: "channel-a", TenantID: "tenant-a", ProviderPhone: "+212661976864", IsActive: true})
	store.AddAssistant(model.Assistant{ID: "assistant-a", TenantID: "tenant-a", IsDefault: true})
	repos := store.Repositories()

	publisher := &recordingPublisher{}
	h := NewWebhookHandler(
		webhook.NewNormalizer(log),
		service.NewIngestService(repos, log),
		service.NewDispatcher(publisher, repos.Outbox, emitter, log),
		emitter,
		cfg,
		log,
	)

	r := chi.NewRouter()
	r.Route("/webhooks/whatsapp", func(r chi.Router) {
		r.Get("/", h.Verify)
		r.Post("/", h.Receive)
		r.Get("/{provider}", h.Verify)
		r.Post("/{provider}", h.Receive)
	})

	return &webhookFixture{router: r, store: store, publisher: publisher, logs: logs}
}

func (f *webhookFixture) post(path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *webhookFixture) events(name model.EventType) []observer.LoggedEntry {
	return f.logs.FilterMessage(string(name)).All()
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["status"]
}

func TestWebhook_AcceptsAndQueuesJob(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	rec := f.post("/webhooks/whatsapp/360dialog", dialogPayload, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accepted", decodeStatus(t, rec))

	jobs := f.publisher.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tenant-a", jobs[0].TenantID)
	assert.Equal(t, "wamid.HBgMMjEyNjYxOTc2ODYz", jobs[0].ProviderMessageID)

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, "Bonjour", msgs[0].Content)

	entries := f.store.OutboxEntries()
	require.Len(t, entries, 1)
	assert.NotNil(t, entries[0].PublishedAt)

	assert.Len(t, f.events(model.EventMessageReceived), 1)
	assert.Len(t, f.events(model.EventJobAdded), 1)
}

func TestWebhook_DuplicateStillAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	require.Equal(t, http.StatusOK, f.post("/webhooks/whatsapp", dialogPayload, nil).Code)
	require.Equal(t, http.StatusOK, f.post("/webhooks/whatsapp", dialogPayload, nil).Code)

	assert.Len(t, f.store.Messages(), 1)
	assert.Len(t, f.publisher.published(), 2)
}

func TestWebhook_StatusOnlyIsIgnored(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	rec := f.post("/webhooks/whatsapp", `{"statuses":[{"id":"wamid.x","status":"delivered"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decodeStatus(t, rec))
	assert.Empty(t, f.publisher.published())
	assert.Empty(t, f.store.Messages())
}

func TestWebhook_MalformedJSON(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	rec := f.post("/webhooks/whatsapp", `{"messages": [`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.publisher.published())
}

func TestWebhook_RejectedPayloadIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	body := `{"messages":[{"id":"a","from":"1","to":"2","timestamp":"1717245296","type":"image"}]}`
	rec := f.post("/webhooks/whatsapp", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decodeStatus(t, rec))
	assert.Empty(t, f.publisher.published())

	rejected := f.events(model.EventMessageRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, string(webhook.ReasonUnsupportedMessageType), rejected[0].ContextMap()["reason"])
}

func TestWebhook_UnknownChannel(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{})

	body := strings.Replace(dialogPayload, `"to": "212661976864"`, `"to": "212600000000"`, 1)
	rec := f.post("/webhooks/whatsapp", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decodeStatus(t, rec))
	assert.Empty(t, f.publisher.published())
	assert.Empty(t, f.store.Messages())
	assert.Len(t, f.events(model.EventChannelNotFound), 1)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{MaxBodyBytes: 64})

	rec := f.post("/webhooks/whatsapp", dialogPayload, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.publisher.published())
}

func TestWebhook_Signature(t *testing.T) {
	const secret = "s3cret"
	f := newWebhookFixture(t, WebhookConfig{AppSecret: secret, IngestTimeout: time.Second})

	rec := f.post("/webhooks/whatsapp", dialogPayload, map[string]string{signatureHeader: "sha256=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post("/webhooks/whatsapp", dialogPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.publisher.published())

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(dialogPayload))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	rec = f.post("/webhooks/whatsapp", dialogPayload, map[string]string{signatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.publisher.published(), 1)
}

func TestWebhook_Verify(t *testing.T) {
	f := newWebhookFixture(t, WebhookConfig{VerifyToken: "let-me-in"})

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{
			name:     "matching token echoes challenge",
			query:    "hub.mode=subscribe&hub.verify_token=let-me-in&hub.challenge=1158201444",
			wantCode: http.StatusOK,
			wantBody: "1158201444",
		},
		{
			name:     "wrong token",
			query:    "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1158201444",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing token",
			query:    "hub.challenge=1158201444",
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp/meta?"+tt.query, nil)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}
