package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repos.Conversations.Create(ctx, &model.Conversation{
			ID: "c1", TenantID: "t1", ChannelID: "ch1", SenderIdentifier: "+1", Status: model.ConversationActive,
		}))
		return errors.New("boom")
	})
	require.Error(t, err)

	assert.Empty(t, s.Conversations())
}

func TestMessages_ExternalIDUniquePerTenant(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	require.NoError(t, repos.Messages.Create(ctx, &model.Message{ID: "m1", TenantID: "t1", ExternalID: ptr("wamid.1")}))

	err := repos.Messages.Create(ctx, &model.Message{ID: "m2", TenantID: "t1", ExternalID: ptr("wamid.1")})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	assert.NoError(t, repos.Messages.Create(ctx, &model.Message{ID: "m3", TenantID: "t2", ExternalID: ptr("wamid.1")}))
}

func TestQuotaCharge(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	day := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repos.Messages.Create(ctx, &model.Message{ID: id, TenantID: "t1"}))
	}

	res, err := repos.Quota.Charge(ctx, "t1", "m1", day, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)

	res, err = repos.Quota.Charge(ctx, "t1", "m1", day, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.AlreadyCharged, "second charge of the same message is a no-op")

	res, _ = repos.Quota.Charge(ctx, "t1", "m2", day, 2)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Count)

	res, _ = repos.Quota.Charge(ctx, "t1", "m3", day, 2)
	assert.False(t, res.Allowed)

	res, _ = repos.Quota.Charge(ctx, "t1", "m3", day.Add(24*time.Hour), 2)
	assert.True(t, res.Allowed, "new UTC day starts a fresh counter")
}

func TestConversationQuotaFlag(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repos.Conversations.Create(ctx, &model.Conversation{ID: "c1", TenantID: "t1", Status: model.ConversationActive}))

	first, err := repos.Conversations.MarkQuotaBlocked(ctx, "t1", "c1", day)
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := repos.Conversations.MarkQuotaBlocked(ctx, "t1", "c1", day)
	assert.False(t, again)

	wrongTenant, _ := repos.Conversations.MarkQuotaBlocked(ctx, "t2", "c1", day.Add(24*time.Hour))
	assert.False(t, wrongTenant)

	require.NoError(t, repos.Conversations.ClearQuotaBlock(ctx, "t1", "c1", day))
	c, _ := repos.Conversations.ByID(ctx, "t1", "c1")
	assert.True(t, c.QuotaBlocked(day), "same-day flag is not cleared")

	require.NoError(t, repos.Conversations.ClearQuotaBlock(ctx, "t1", "c1", day.Add(24*time.Hour)))
	c, _ = repos.Conversations.ByID(ctx, "t1", "c1")
	assert.Nil(t, c.QuotaBlockedOn)
}
