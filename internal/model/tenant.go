package model

import (
	"time"
)

// Tenant is the isolation boundary. Administered outside this service.
type Tenant struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`

	// DailyMessageLimit caps processed inbound messages per UTC day.
	// Zero means the deployment default applies.
	DailyMessageLimit int `gorm:"not null;default:0" json:"daily_message_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// Channel is a provider-bound inbound address owned by a tenant.
type Channel struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID      string    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Provider      string    `gorm:"size:32;not null" json:"provider"`
	ProviderPhone string    `gorm:"size:32;not null" json:"provider_phone"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}

// Assistant is the AI persona a conversation is bound to.
type Assistant struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	TenantID     string    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	Provider     string    `gorm:"size:32" json:"provider"`
	Model        string    `gorm:"size:128" json:"model"`
	RAGEnabled   bool      `gorm:"column:rag_enabled;not null;default:false" json:"rag_enabled"`
	IsDefault    bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Assistant) TableName() string {
	return "assistants"
}
