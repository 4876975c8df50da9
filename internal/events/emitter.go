// Package events emits structured, correlation-keyed pipeline events.
package events

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

var warnEvents = map[model.EventType]bool{
	model.EventMessageRejected:         true,
	model.EventChannelNotFound:         true,
	model.EventJobEnqueueFailed:        true,
	model.EventDuplicateMessageDropped: true,
	model.EventRateLimited:             true,
	model.EventQuotaExceeded:           true,
	model.EventProtectionDegraded:      true,
	model.EventJobFailed:               true,
	model.EventJobRetryScheduled:       true,
}

// Emitter writes one log line per event and counts it.
type Emitter struct {
	logger *logger.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(log *logger.Logger) *Emitter {
	return &Emitter{logger: log}
}

// Emit records name at the level associated with the event.
func (e *Emitter) Emit(ctx context.Context, name model.EventType, corr model.Correlation, fields ...zap.Field) {
	level := zapcore.InfoLevel
	if warnEvents[name] {
		level = zapcore.WarnLevel
	}
	e.EmitAt(ctx, level, name, corr, fields...)
}

// EmitAt records name at an explicit level.
func (e *Emitter) EmitAt(ctx context.Context, level zapcore.Level, name model.EventType, corr model.Correlation, fields ...zap.Field) {
	metrics.EventsTotal.WithLabelValues(string(name)).Inc()

	ce := e.logger.Check(level, string(name))
	if ce == nil {
		return
	}

	all := make([]zap.Field, 0, len(fields)+9)
	all = append(all, zap.String("event", string(name)))
	all = appendCorrelation(all, corr)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		all = append(all, zap.String("trace_id", sc.TraceID().String()))
	}

	all = append(all, fields...)
	ce.Write(all...)
}

// CorrelationFields returns the non-empty correlation ids as zap fields.
func CorrelationFields(corr model.Correlation) []zap.Field {
	return appendCorrelation(nil, corr)
}

func appendCorrelation(fields []zap.Field, corr model.Correlation) []zap.Field {
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	add("tenant_id", corr.TenantID)
	add("channel_id", corr.ChannelID)
	add("conversation_id", corr.ConversationID)
	add("message_id", corr.MessageID)
	add("provider_message_id", corr.ProviderMessageID)
	add("job_id", corr.JobID)
	add("request_id", corr.RequestID)
	return fields
}
