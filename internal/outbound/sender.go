// Package outbound sends text replies through the chat provider.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/phone"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

var (
	// ErrInvalidRecipient means the provider will never accept this recipient.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrProviderRateLimited means the provider throttled the send.
	ErrProviderRateLimited = errors.New("provider rate limited")
	// ErrTransient covers network failures and provider-side errors.
	ErrTransient = errors.New("transient send failure")
)

// IsRetryable reports whether a send error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrTransient)
}

// Metadata correlates a send with the relay's records.
type Metadata struct {
	TenantID       string
	ConversationID string
	ChannelID      string
	MessageID      string
}

// Sender delivers a text message and returns the provider delivery id.
type Sender interface {
	SendText(ctx context.Context, to, body string, meta Metadata) (string, error)
}

// LogSender logs sends instead of delivering them. Used for local runs.
type LogSender struct {
	logger *logger.Logger
}

// NewLogSender creates a new log-only sender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) SendText(_ context.Context, to, body string, meta Metadata) (string, error) {
	if phone.Normalize(to) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, phone.Mask(to))
	}

	id := "log-" + uuid.NewString()
	s.logger.Info("Outbound message (log sender)",
		zap.String("to", phone.Mask(to)),
		zap.Int("body_len", len(body)),
		zap.String("tenant_id", meta.TenantID),
		zap.String("conversation_id", meta.ConversationID),
		zap.String("delivery_id", id),
	)
	return id, nil
}
