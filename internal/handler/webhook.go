package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/phone"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/webhook"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

const signatureHeader = "X-Hub-Signature-256"

// Ingester persists a normalized inbound message.
type Ingester interface {
	Ingest(ctx context.Context, msg *model.NormalizedIncomingMessage, requestID string) (*service.IngestResult, error)
}

// JobDispatcher enqueues a committed job.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job model.Job) bool
}

// WebhookConfig holds webhook endpoint settings.
type WebhookConfig struct {
	MaxBodyBytes  int64
	IngestTimeout time.Duration
	VerifyToken   string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
}

// WebhookHandler handles inbound chat provider webhooks.
type WebhookHandler struct {
	normalizer *webhook.Normalizer
	ingest     Ingester
	dispatcher JobDispatcher
	emitter    *events.Emitter
	cfg        WebhookConfig
	logger     *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	normalizer *webhook.Normalizer,
	ingest Ingester,
	dispatcher JobDispatcher,
	emitter *events.Emitter,
	cfg WebhookConfig,
	log *logger.Logger,
) *WebhookHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = 5 * time.Second
	}
	return &WebhookHandler{
		normalizer: normalizer,
		ingest:     ingest,
		dispatcher: dispatcher,
		emitter:    emitter,
		cfg:        cfg,
		logger:     log,
	}
}

// Receive handles POST /webhooks/whatsapp[/{provider}]. Only transport
// problems produce a non-200 answer; everything else is acknowledged so
// the provider does not retry.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	hint := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.outcome(hint, "too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.outcome(hint, "unreadable")
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if h.cfg.AppSecret != "" && !validSignature(h.cfg.AppSecret, body, r.Header.Get(signatureHeader)) {
		h.outcome(hint, "bad_signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	requestID := middleware.GetCorrelationID(r.Context())
	corr := model.Correlation{RequestID: requestID}

	msg, err := h.normalizer.Normalize(body, hint)
	if err != nil {
		if errors.Is(err, webhook.ErrStatusOnly) {
			h.outcome(hint, "status_only")
			acknowledge(w, "ignored")
			return
		}
		if errors.Is(err, webhook.ErrMalformedBody) {
			h.outcome(hint, "malformed")
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
		h.outcome(hint, "rejected")
		fields := []zap.Field{zap.String("provider_hint", hint)}
		if rej, ok := webhook.AsRejection(err); ok {
			fields = append(fields, zap.String("reason", string(rej.Reason)), zap.String("detail", rej.Detail))
		} else {
			fields = append(fields, zap.Error(err))
		}
		h.emitter.Emit(r.Context(), model.EventMessageRejected, corr, fields...)
		acknowledge(w, "rejected")
		return
	}

	corr.ProviderMessageID = msg.ProviderMessageID
	h.emitter.Emit(r.Context(), model.EventMessageReceived, corr,
		zap.String("provider", string(msg.Provider)),
		zap.String("from", phone.Mask(msg.FromPhone)),
		zap.String("to", phone.Mask(msg.ToPhone)),
	)

	// The provider may hang up once it has what it needs; keep going.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.IngestTimeout)
	defer cancel()

	res, err := h.ingest.Ingest(ctx, msg, requestID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChannelNotFound):
			h.outcome(string(msg.Provider), "channel_not_found")
			h.emitter.Emit(ctx, model.EventChannelNotFound, corr, zap.String("to", phone.Mask(msg.ToPhone)))
			acknowledge(w, "ignored")
		case errors.Is(err, service.ErrNoDefaultAssistant):
			h.outcome(string(msg.Provider), "no_assistant")
			h.logger.Warn("Tenant has no default assistant",
				append(events.CorrelationFields(corr), zap.Error(err))...,
			)
			acknowledge(w, "ignored")
		default:
			h.outcome(string(msg.Provider), "ingest_failed")
			h.logger.Error("Failed to ingest webhook message",
				append(events.CorrelationFields(corr), zap.Error(err))...,
			)
			acknowledge(w, "accepted")
		}
		return
	}

	h.dispatcher.Dispatch(ctx, res.Job)

	if res.Duplicate {
		h.outcome(string(msg.Provider), "duplicate")
	} else {
		h.outcome(string(msg.Provider), "accepted")
	}
	acknowledge(w, "accepted")
}

// Verify handles GET /webhooks/whatsapp[/{provider}], the subscription
// handshake: the challenge is echoed only when the verify token matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if h.cfg.VerifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.VerifyToken)) != 1 {
		h.logger.Warn("Webhook verification failed", zap.String("mode", q.Get("hub.mode")))
		writeError(w, http.StatusUnauthorized, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *WebhookHandler) outcome(provider, outcome string) {
	label := "unknown"
	if p, ok := webhook.ParseProvider(provider); ok {
		label = string(p)
	}
	metrics.WebhooksTotal.WithLabelValues(label, outcome).Inc()
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func acknowledge(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
