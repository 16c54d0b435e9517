package models

import (
	"time"

	"gorm.io/gorm"
)

// GeneratedEmail statuses
const (
	EmailPendingApproval = "pending_approval"
	EmailApproved        = "approved"
	EmailRejected        = "rejected"
	EmailSent            = "sent"
)

// GeneratedEmail is an AI-drafted outreach email awaiting review
type GeneratedEmail struct {
	gorm.Model
	ProspectID uint `gorm:"not null;index" json:"prospect_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	Subject              string `gorm:"not null" json:"subject"`
	Body                 string `gorm:"type:text;not null" json:"body"`
	PersonalizationNotes string `gorm:"type:text" json:"personalization_notes"`

	// Recipient snapshot
	RecipientEmail string `gorm:"not null" json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	Status          string `gorm:"default:'pending_approval';index" json:"status"` // pending_approval, approved, rejected, sent
	RejectionReason string `gorm:"type:text" json:"rejection_reason"`
	ModelName       string `json:"model"`

	// Relations
	Prospect Prospect `json:"-"`
	Campaign Campaign `json:"-"`
}

// SendQueueRow statuses
const (
	QueuePending   = "pending"
	QueueSent      = "sent"
	QueueFailed    = "failed"
	QueueHalted    = "halted"
	QueueCancelled = "cancelled"
)

// SendQueueRow is one scheduled send attempt for a generated email
type SendQueueRow struct {
	gorm.Model
	CampaignID       uint  `gorm:"not null;index" json:"campaign_id"`
	ProspectID       uint  `gorm:"not null;index" json:"prospect_id"`
	GeneratedEmailID uint  `gorm:"not null;index" json:"generated_email_id"`
	SequenceStepID   *uint `gorm:"index" json:"sequence_step_id,omitempty"`

	// Recipient snapshot at enqueue time
	RecipientEmail string `gorm:"not null" json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`
	Subject        string `gorm:"not null" json:"subject"`
	Body           string `gorm:"type:text;not null" json:"body"`

	ScheduledFor time.Time `gorm:"not null;index" json:"scheduled_for"`
	IsFollowup   bool      `gorm:"default:false;index" json:"is_followup"`

	Status          string     `gorm:"default:'pending';index" json:"status"` // pending, sent, failed, halted, cancelled
	AttemptCount    int        `gorm:"default:0" json:"attempt_count"`
	LastAttemptedAt *time.Time `json:"last_attempted_at"`
	SentAt          *time.Time `json:"sent_at"`
	ErrorMessage    string     `json:"error_message"`
	ProviderMsgID   string     `json:"provider_msg_id"`

	// Relations
	Campaign       Campaign       `json:"-"`
	Prospect       Prospect       `json:"-"`
	GeneratedEmail GeneratedEmail `json:"-"`
}
