package model

import (
	"time"
)

// Provider identifies the chat transport that delivered a webhook.
type Provider string

const (
	Provider360Dialog Provider = "360dialog"
	ProviderMeta      Provider = "meta"
)

// NormalizedIncomingMessage is the canonical inbound message shape,
// independent of the provider payload it came from.
type NormalizedIncomingMessage struct {
	Provider          Provider  `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	FromPhone         string    `json:"from_phone"`
	ToPhone           string    `json:"to_phone"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
}
