package models

import (
	"time"

	"gorm.io/gorm"
)

// Reply categories assigned by the categorizer
const (
	ReplyInterested    = "interested"
	ReplyObjection     = "objection"
	ReplyOOO           = "ooo"
	ReplyNotInterested = "not_interested"
	ReplyQuestion      = "question"
	ReplySpam          = "spam"
)

// ProspectReply is an inbound reply from a prospect
type ProspectReply struct {
	gorm.Model
	ProspectID uint `gorm:"not null;index" json:"prospect_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	FromEmail  string    `gorm:"not null" json:"from_email"`
	Subject    string    `json:"subject"`
	Body       string    `gorm:"type:text" json:"body"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`

	// Provider-issued id, used for webhook/IMAP idempotency
	ProviderMessageID string `gorm:"index" json:"provider_message_id"`

	// AI categorization; null until classified
	Category           *string    `gorm:"index" json:"category,omitempty"` // interested, objection, ooo, not_interested, question, spam
	CategoryConfidence *float64   `json:"category_confidence,omitempty"`
	OOOReturnDate      *time.Time `json:"ooo_return_date,omitempty"`
	PrimaryObjection   string     `json:"primary_objection"`

	IsRead     bool `gorm:"default:false" json:"is_read"`
	IsArchived bool `gorm:"default:false" json:"is_archived"`

	// Relations
	Prospect Prospect    `json:"-"`
	Campaign Campaign    `json:"-"`
	Draft    *ReplyDraft `gorm:"foreignKey:ReplyID" json:"draft,omitempty"`
}

// ReplyDraft is the AI-drafted response to one prospect reply
type ReplyDraft struct {
	gorm.Model
	ReplyID    uint `gorm:"not null;uniqueIndex" json:"reply_id"`
	ProspectID uint `gorm:"not null;index" json:"prospect_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	Subject         string     `gorm:"not null" json:"subject"`
	Body            string     `gorm:"type:text;not null" json:"body"`
	SuggestedAction string     `json:"suggested_action"`
	FollowUpDate    *time.Time `json:"follow_up_date,omitempty"` // set for OOO replies

	Status    string `gorm:"default:'pending_approval'" json:"status"` // pending_approval, approved, rejected
	ModelName string `json:"model"`

	// Relations
	Reply ProspectReply `json:"-"`
}
