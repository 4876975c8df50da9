package service

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// MessageService handles tenant-scoped message reads.
type MessageService struct {
	messages            repository.MessageRepository
	conversationService *ConversationService
	logger              *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(messages repository.MessageRepository, conversationService *ConversationService, log *logger.Logger) *MessageService {
	return &MessageService{
		messages:            messages,
		conversationService: conversationService,
		logger:              log,
	}
}

// List returns a page of a conversation's messages, oldest first.
func (s *MessageService) List(ctx context.Context, tenantID, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}

	// Fetch one extra row to learn whether another page exists.
	msgs, err := s.messages.ListByConversation(ctx, tenantID, conversationID, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &model.ListMessagesResponse{Messages: msgs, HasMore: hasMore}, nil
}
