package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository/memstore"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

func newReadAPI(t *testing.T, tenantID string) (http.Handler, *memstore.Store) {
	t.Helper()

	log := logger.NewNop()
	store := memstore.New()
	repos := store.Repositories()

	convSvc := service.NewConversationService(repos.Conversations, log)
	convHandler := NewConversationHandler(convSvc, log)
	msgHandler := NewMessageHandler(service.NewMessageService(repos.Messages, convSvc, log), log)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithTenantID(r.Context(), tenantID)))
		})
	})
	r.Get("/conversations", convHandler.List)
	r.Get("/conversations/{id}", convHandler.Get)
	r.Get("/conversations/{id}/messages", msgHandler.List)

	return r, store
}

func seedConversation(t *testing.T, store *memstore.Store, tenantID string, status model.ConversationStatus, at time.Time) string {
	t.Helper()
	conv := &model.Conversation{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		ChannelID:        uuid.NewString(),
		AssistantID:      uuid.NewString(),
		SenderIdentifier: "+2126" + uuid.NewString()[:8],
		Status:           status,
		LastMessageAt:    at,
	}
	require.NoError(t, store.Repositories().Conversations.Create(context.Background(), conv))
	return conv.ID
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestConversationHandler_List(t *testing.T) {
	h, store := newReadAPI(t, "tenant-a")
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	newest := seedConversation(t, store, "tenant-a", model.ConversationActive, base.Add(time.Hour))
	seedConversation(t, store, "tenant-a", model.ConversationClosed, base)
	seedConversation(t, store, "tenant-b", model.ConversationActive, base)

	rec := get(h, "/conversations?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, newest, resp.Conversations[0].ID)

	rec = get(h, "/conversations?status=closed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, model.ConversationClosed, resp.Conversations[0].Status)
}

func TestConversationHandler_ListRejectsBadQuery(t *testing.T) {
	h, _ := newReadAPI(t, "tenant-a")

	for _, q := range []string{"limit=0", "limit=101", "limit=abc", "offset=-1", "status=archived"} {
		t.Run(q, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(h, "/conversations?"+q).Code)
		})
	}
}

func TestConversationHandler_Get(t *testing.T) {
	h, store := newReadAPI(t, "tenant-a")
	mine := seedConversation(t, store, "tenant-a", model.ConversationActive, time.Now())
	theirs := seedConversation(t, store, "tenant-b", model.ConversationActive, time.Now())

	assert.Equal(t, http.StatusOK, get(h, "/conversations/"+mine).Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/conversations/"+theirs).Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/conversations/not-a-uuid").Code)
}

func TestMessageHandler_List(t *testing.T) {
	h, store := newReadAPI(t, "tenant-a")
	convID := seedConversation(t, store, "tenant-a", model.ConversationActive, time.Now())

	msgs := store.Repositories().Messages
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, msgs.Create(context.Background(), &model.Message{
			ID:             uuid.NewString(),
			TenantID:       "tenant-a",
			ConversationID: convID,
			Direction:      model.DirectionInbound,
			Kind:           model.KindText,
			Content:        text,
			Status:         model.StatusReceived,
		}))
	}

	rec := get(h, "/conversations/"+convID+"/messages?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)

	assert.Equal(t, http.StatusNotFound, get(h, "/conversations/"+uuid.NewString()+"/messages").Code)
}
