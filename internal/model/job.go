package model

import (
	"time"
)

// Job is one unit of asynchronous reply work. It carries the full
// correlation chain so every stage can be traced end to end.
type Job struct {
	JobID             string    `json:"job_id"`
	TenantID          string    `json:"tenant_id"`
	ChannelID         string    `json:"channel_id"`
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	RequestID         string    `json:"request_id,omitempty"`
	EnqueuedAt        time.Time `json:"enqueued_at"`

	// Attempts is filled from the queue delivery count, not serialized state.
	Attempts int `json:"-"`
}

// Correlation returns the job's correlation bundle.
func (j Job) Correlation() Correlation {
	return Correlation{
		TenantID:          j.TenantID,
		ChannelID:         j.ChannelID,
		ConversationID:    j.ConversationID,
		MessageID:         j.MessageID,
		ProviderMessageID: j.ProviderMessageID,
		JobID:             j.JobID,
		RequestID:         j.RequestID,
	}
}

// Correlation is the set of identifiers threaded through every event.
type Correlation struct {
	TenantID          string
	ChannelID         string
	ConversationID    string
	MessageID         string
	ProviderMessageID string
	JobID             string
	RequestID         string
}

// OutboxEntry is a job written in the ingest transaction and published
// to the queue after commit, or later by the sweeper.
type OutboxEntry struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID    string     `gorm:"type:uuid;not null" json:"tenant_id"`
	Payload     string     `gorm:"type:jsonb;not null" json:"payload"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (OutboxEntry) TableName() string {
	return "job_outbox"
}
