// Package model defines data structures for the chat relay.
package model

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is one ongoing thread between one external sender and one channel.
type Conversation struct {
	ID               string             `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID         string             `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ChannelID        string             `gorm:"type:uuid;not null" json:"channel_id"`
	AssistantID      string             `gorm:"type:uuid;not null" json:"assistant_id"`
	SenderIdentifier string             `gorm:"size:32;not null" json:"sender_identifier"`
	Status           ConversationStatus `gorm:"size:16;not null" json:"status"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	MessageCount     int                `gorm:"not null;default:0" json:"message_count"`

	// QuotaBlockedOn is the UTC day the tenant quota was found exhausted for
	// this conversation. A value from an earlier day is stale.
	QuotaBlockedOn *time.Time `gorm:"type:date" json:"quota_blocked_on,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// QuotaBlocked reports whether the cached quota flag applies to day.
func (c *Conversation) QuotaBlocked(day time.Time) bool {
	return c.QuotaBlockedOn != nil && QuotaDay(*c.QuotaBlockedOn).Equal(QuotaDay(day))
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
