package model

import (
	"time"
)

// DailyQuotaCounter is one tenant's processed-message count for one UTC day.
type DailyQuotaCounter struct {
	TenantID   string    `gorm:"primaryKey;type:uuid"`
	Day        time.Time `gorm:"primaryKey;type:date"`
	Count      int       `gorm:"not null;default:0"`
	DailyLimit int       `gorm:"not null"`
	UpdatedAt  time.Time
}

func (DailyQuotaCounter) TableName() string {
	return "daily_quota_counters"
}

// QuotaDay truncates t to the start of its UTC calendar day.
func QuotaDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
