package models

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is the append-only idempotency record for external webhooks.
// A provider event id is recorded once; re-deliveries are dropped.
type WebhookEvent struct {
	gorm.Model
	Provider  string `gorm:"not null;uniqueIndex:idx_provider_event" json:"provider"` // stripe, inbound_mail
	EventID   string `gorm:"not null;uniqueIndex:idx_provider_event" json:"event_id"`
	EventType string `gorm:"index" json:"event_type"`

	Payload     string     `gorm:"type:text" json:"payload"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// Report is a generated periodic summary for one user
type Report struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Period      string    `gorm:"not null;index" json:"period"` // weekly, monthly, quarterly
	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Body     string     `gorm:"type:text" json:"body"` // JSON summary
	EmailedAt *time.Time `json:"emailed_at"`

	// Relations
	User User `json:"-"`
}
