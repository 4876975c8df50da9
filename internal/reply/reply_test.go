package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/outbound"
	"github.com/capitalize-ai/chat-relay/internal/repository/memstore"
	"github.com/capitalize-ai/chat-relay/internal/retrieval"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

func (m *mockClient) Name() string { return "anthropic" }

type mockSender struct{ mock.Mock }

func (m *mockSender) SendText(ctx context.Context, to, body string, meta outbound.Metadata) (string, error) {
	args := m.Called(ctx, to, body, meta)
	return args.String(0), args.Error(1)
}

type mockRetriever struct{ mock.Mock }

func (m *mockRetriever) GetContext(ctx context.Context, tenantID, assistantID, query string) ([]retrieval.Chunk, error) {
	args := m.Called(ctx, tenantID, assistantID, query)
	chunks, _ := args.Get(0).([]retrieval.Chunk)
	return chunks, args.Error(1)
}

type fixture struct {
	store  *memstore.Store
	conv   *model.Conversation
	job    model.Job
	client *mockClient
	sender *mockSender
}

func newFixture(t *testing.T, ragEnabled bool) *fixture {
	t.Helper()
	ctx := context.Background()

	s := memstore.New()
	s.AddAssistant(model.Assistant{
		ID: "assistant-1", TenantID: "tenant-1", SystemPrompt: "You are helpful.", Model: "claude-3-5-haiku", RAGEnabled: ragEnabled,
	})
	repos := s.Repositories()

	conv := &model.Conversation{
		ID: "conv-1", TenantID: "tenant-1", ChannelID: "channel-1", AssistantID: "assistant-1",
		SenderIdentifier: "+212661976863", Status: model.ConversationActive,
	}
	require.NoError(t, repos.Conversations.Create(ctx, conv))

	externalID := "wamid.1"
	require.NoError(t, repos.Messages.Create(ctx, &model.Message{
		ID: "msg-1", TenantID: "tenant-1", ConversationID: "conv-1", Direction: model.DirectionInbound,
		Kind: model.KindText, Content: "What are your opening hours?", ExternalID: &externalID, Status: model.StatusReceived,
	}))

	return &fixture{
		store: s,
		conv:  conv,
		job: model.Job{
			JobID: "job-1", TenantID: "tenant-1", ChannelID: "channel-1", ConversationID: "conv-1",
			MessageID: "msg-1", ProviderMessageID: "wamid.1", Attempts: 1,
		},
		client: new(mockClient),
		sender: new(mockSender),
	}
}

func (f *fixture) orchestrator(retriever retrieval.Retriever) *Orchestrator {
	registry := llm.NewRegistry(llm.ProviderAnthropic)
	registry.Register(f.client)
	return NewOrchestrator(f.store.Repositories(), registry, retriever, f.sender, events.NewEmitter(logger.NewNop()), Config{
		HistoryLimit:   10,
		MaxTokens:      256,
		LLMTimeout:     time.Second,
		ScoreThreshold: 0.5,
		TokenBudget:    100,
	}, logger.NewNop())
}

func (f *fixture) replies() []model.Message {
	var out []model.Message
	for _, m := range f.store.Messages() {
		if m.Kind == model.KindReply {
			out = append(out, m)
		}
	}
	return out
}

func TestReply_PersistsAndSends(t *testing.T) {
	f := newFixture(t, false)
	f.client.On("Complete", mock.Anything, mock.MatchedBy(func(req *llm.CompletionRequest) bool {
		return req.Model == "claude-3-5-haiku" && req.MaxTokens == 256 && req.System == "You are helpful."
	})).Return(&llm.CompletionResponse{Content: "9am to 6pm.", Model: "claude-3-5-haiku", TokensIn: 20, TokensOut: 5}, nil)
	f.sender.On("SendText", mock.Anything, "+212661976863", "9am to 6pm.", mock.MatchedBy(func(m outbound.Metadata) bool {
		return m.TenantID == "tenant-1" && m.ConversationID == "conv-1"
	})).Return("wamid.out.1", nil)

	res, err := f.orchestrator(nil).Reply(context.Background(), f.job, f.conv)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.True(t, res.ModelInvoked)
	assert.Equal(t, "wamid.out.1", res.DeliveryID)

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, model.StatusSent, replies[0].Status)
	assert.Equal(t, "wamid.out.1", *replies[0].ProviderDeliveryID)
	assert.Equal(t, 20, *replies[0].TokensIn)

	conv, err := f.store.Repositories().Conversations.ByID(context.Background(), "tenant-1", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.MessageCount)
}

func TestReply_ResendsPendingWithoutModel(t *testing.T) {
	f := newFixture(t, false)
	f.client.On("Complete", mock.Anything, mock.Anything).
		Return(&llm.CompletionResponse{Content: "Hello", Model: "claude-3-5-haiku"}, nil).Once()
	f.sender.On("SendText", mock.Anything, mock.Anything, "Hello", mock.Anything).
		Return("", fmt.Errorf("%w: 503", outbound.ErrTransient)).Once()
	f.sender.On("SendText", mock.Anything, mock.Anything, "Hello", mock.Anything).
		Return("wamid.out.1", nil).Once()

	o := f.orchestrator(nil)

	_, err := o.Reply(context.Background(), f.job, f.conv)
	require.ErrorIs(t, err, outbound.ErrTransient)
	require.Len(t, f.replies(), 1)
	assert.Equal(t, model.StatusPending, f.replies()[0].Status)

	f.job.Attempts = 2
	res, err := o.Reply(context.Background(), f.job, f.conv)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResent, res.Outcome)
	assert.False(t, res.ModelInvoked)

	require.Len(t, f.replies(), 1, "exactly one persisted outbound across retries")
	assert.Equal(t, model.StatusSent, f.replies()[0].Status)
	f.client.AssertNumberOfCalls(t, "Complete", 1)

	res, err = o.Reply(context.Background(), f.job, f.conv)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySent, res.Outcome)
	f.sender.AssertNumberOfCalls(t, "SendText", 2)
}

func TestReply_InvalidRecipientMarksFailed(t *testing.T) {
	f := newFixture(t, false)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(&llm.CompletionResponse{Content: "Hi"}, nil)
	f.sender.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: 404", outbound.ErrInvalidRecipient))

	_, err := f.orchestrator(nil).Reply(context.Background(), f.job, f.conv)
	require.ErrorIs(t, err, outbound.ErrInvalidRecipient)

	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, model.StatusFailed, replies[0].Status)
	require.NotNil(t, replies[0].FailureReason)
}

func TestReply_ModelErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, false)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("deadline exceeded"))

	_, err := f.orchestrator(nil).Reply(context.Background(), f.job, f.conv)
	require.Error(t, err)
	assert.Empty(t, f.replies())
	f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReply_AttachesRetrievedContext(t *testing.T) {
	f := newFixture(t, true)
	retriever := new(mockRetriever)
	retriever.On("GetContext", mock.Anything, "tenant-1", "assistant-1", "What are your opening hours?").Return([]retrieval.Chunk{
		{Text: "Open 9am to 6pm, Monday to Saturday.", Score: 0.91, SourceID: "faq-1"},
		{Text: "Unrelated shipping policy.", Score: 0.12, SourceID: "faq-9"},
	}, nil)

	f.client.On("Complete", mock.Anything, mock.MatchedBy(func(req *llm.CompletionRequest) bool {
		return strings.Contains(req.System, "Open 9am to 6pm") && !strings.Contains(req.System, "shipping")
	})).Return(&llm.CompletionResponse{Content: "9 to 6."}, nil)
	f.sender.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("d1", nil)

	_, err := f.orchestrator(retriever).Reply(context.Background(), f.job, f.conv)
	require.NoError(t, err)
	retriever.AssertExpectations(t)
	f.client.AssertExpectations(t)
}

func TestReply_RetrievalFailureContinues(t *testing.T) {
	f := newFixture(t, true)
	retriever := new(mockRetriever)
	retriever.On("GetContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("qdrant down"))
	f.client.On("Complete", mock.Anything, mock.MatchedBy(func(req *llm.CompletionRequest) bool {
		return req.System == "You are helpful."
	})).Return(&llm.CompletionResponse{Content: "ok"}, nil)
	f.sender.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("d1", nil)

	_, err := f.orchestrator(retriever).Reply(context.Background(), f.job, f.conv)
	require.NoError(t, err)
}

func TestSendNotice_BestEffort(t *testing.T) {
	f := newFixture(t, false)
	f.sender.On("SendText", mock.Anything, mock.Anything, "Slow down", mock.Anything).Return("", outbound.ErrTransient)

	f.orchestrator(nil).SendNotice(context.Background(), f.job, f.conv, "rate_limited", "Slow down")

	var notices []model.Message
	for _, m := range f.store.Messages() {
		if m.Kind == model.KindNotice {
			notices = append(notices, m)
		}
	}
	require.Len(t, notices, 1)
	assert.Nil(t, notices[0].ReplyToMessageID)
	f.sender.AssertNumberOfCalls(t, "SendText", 1)
}

func TestReply_HistoryStopsAtInboundMessage(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	inbound, err := f.store.Repositories().Messages.ByID(ctx, "tenant-1", "msg-1")
	require.NoError(t, err)
	later := "wamid.2"
	require.NoError(t, f.store.Repositories().Messages.Create(ctx, &model.Message{
		ID: "msg-2", TenantID: "tenant-1", ConversationID: "conv-1", Direction: model.DirectionInbound,
		Kind: model.KindText, Content: "And on Sundays?", ExternalID: &later, Status: model.StatusReceived,
		CreatedAt: inbound.CreatedAt.Add(time.Second),
	}))

	f.client.On("Complete", mock.Anything, mock.MatchedBy(func(req *llm.CompletionRequest) bool {
		return len(req.Messages) == 1 && req.Messages[0].Content == "What are your opening hours?"
	})).Return(&llm.CompletionResponse{Content: "9am to 6pm.", Model: "claude-3-5-haiku"}, nil).Once()
	f.sender.On("SendText", mock.Anything, mock.Anything, "9am to 6pm.", mock.Anything).Return("wamid.out.1", nil)

	_, err = f.orchestrator(nil).Reply(ctx, f.job, f.conv)
	require.NoError(t, err)
	f.client.AssertExpectations(t)
}

func TestBuildHistory(t *testing.T) {
	msgs := []model.Message{
		{Direction: model.DirectionOutbound, Kind: model.KindReply, Content: "orphan reply"},
		{Direction: model.DirectionInbound, Kind: model.KindText, Content: "hi"},
		{Direction: model.DirectionInbound, Kind: model.KindText, Content: "are you there?"},
		{Direction: model.DirectionOutbound, Kind: model.KindReply, Content: "yes"},
		{Direction: model.DirectionOutbound, Kind: model.KindNotice, Content: "slow down"},
		{Direction: model.DirectionOutbound, Kind: model.KindReply, Content: "lost", Status: model.StatusFailed},
		{Direction: model.DirectionInbound, Kind: model.KindText, Content: "hours?"},
	}

	got := BuildHistory(msgs)
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "hi\n\nare you there?"},
		{Role: llm.RoleAssistant, Content: "yes"},
		{Role: llm.RoleUser, Content: "hours?"},
	}, got)
}

func TestSelectChunks(t *testing.T) {
	chunks := []retrieval.Chunk{
		{Text: strings.Repeat("a", 40), Score: 0.9},
		{Text: "low", Score: 0.1},
		{Text: strings.Repeat("b", 40), Score: 0.8},
		{Text: strings.Repeat("c", 40), Score: 0.7},
	}

	got := SelectChunks(chunks, 0.5, 20)
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 0.8, got[1].Score)

	assert.Equal(t, 3, EstimateTokens("héllo wörld"))
}
