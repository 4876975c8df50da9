package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

func TestEmit_CorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEmitter(logger.Wrap(zap.New(core)))

	corr := model.Correlation{
		TenantID:          "tenant-1",
		ConversationID:    "conv-1",
		ProviderMessageID: "wamid.1",
		JobID:             "job-1",
	}
	e.Emit(context.Background(), model.EventJobAdded, corr, zap.Int("attempt", 1))

	entries := logs.FilterMessage("job_added").All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "job_added", fields["event"])
	assert.Equal(t, "tenant-1", fields["tenant_id"])
	assert.Equal(t, "conv-1", fields["conversation_id"])
	assert.Equal(t, "wamid.1", fields["provider_message_id"])
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, int64(1), fields["attempt"])
	assert.NotContains(t, fields, "channel_id", "empty ids are omitted")
	assert.NotContains(t, fields, "request_id")
}

func TestEmit_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEmitter(logger.Wrap(zap.New(core)))

	e.Emit(context.Background(), model.EventRateLimited, model.Correlation{})
	e.EmitAt(context.Background(), zapcore.ErrorLevel, model.EventJobFailed, model.Correlation{})

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, zapcore.WarnLevel, all[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, all[1].Level)
}
