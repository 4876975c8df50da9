package model

import (
	"time"
)

// Direction tells whether a message came from the sender or went to them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind distinguishes assistant replies from policy notices.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindReply  MessageKind = "reply"
	KindNotice MessageKind = "notice"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusReceived MessageStatus = "received"
	StatusPending  MessageStatus = "pending"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
)

// Message is one inbound or outbound unit of a conversation.
type Message struct {
	// Identity
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID       string `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ConversationID string `gorm:"type:uuid;not null;index" json:"conversation_id"`

	// Content
	Direction Direction   `gorm:"size:16;not null" json:"direction"`
	Kind      MessageKind `gorm:"size:16;not null" json:"kind"`
	Content   string      `gorm:"not null" json:"content"`

	// ExternalID is the provider message id of an inbound message.
	ExternalID *string `gorm:"size:255" json:"external_id,omitempty"`
	// ReplyToMessageID links an outbound message to the inbound it answers.
	ReplyToMessageID *string `gorm:"type:uuid" json:"reply_to_message_id,omitempty"`

	// Delivery
	Status             MessageStatus `gorm:"size:16;not null" json:"status"`
	ProviderDeliveryID *string       `gorm:"size:255" json:"provider_delivery_id,omitempty"`
	FailureReason      *string       `json:"failure_reason,omitempty"`

	// LLM Metadata (nullable for non-reply messages)
	Model     *string `gorm:"size:128" json:"model,omitempty"`
	TokensIn  *int    `json:"tokens_in,omitempty"`
	TokensOut *int    `json:"tokens_out,omitempty"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`

	// Timestamps
	ProviderTimestamp *time.Time `json:"provider_timestamp,omitempty"`
	QuotaChargedAt    *time.Time `json:"-"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
