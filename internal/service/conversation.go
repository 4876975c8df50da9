package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// ErrConversationNotFound is returned for missing or foreign conversations.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService handles tenant-scoped conversation reads.
type ConversationService struct {
	conversations repository.ConversationRepository
	logger        *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(conversations repository.ConversationRepository, log *logger.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		logger:        log,
	}
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.ByID(ctx, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, status *model.ConversationStatus, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.conversations.List(ctx, tenantID, repository.ConversationFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}
