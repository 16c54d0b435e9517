package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign represents one outreach campaign owned by a user
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name               string `gorm:"not null" json:"name"`
	ProductDescription string `gorm:"type:text" json:"product_description"`
	ICPDescription     string `gorm:"type:text" json:"icp_description"`
	ICPDerived         string `gorm:"type:text" json:"icp_derived"` // structured derivation (JSON)

	// Lifecycle
	Status          string `gorm:"default:'active'" json:"status"`           // active, paused, completed
	DiscoveryStatus string `gorm:"default:'pending'" json:"discovery_status"` // pending, in_progress, completed
	IsArchived      bool   `gorm:"default:false" json:"is_archived"`

	// Campaigns created by an external program carry an isolation key
	ProgramKey *string `gorm:"index" json:"program_key,omitempty"`

	// Relations
	Prospects      []Prospect              `gorm:"foreignKey:CampaignID" json:"prospects,omitempty"`
	SendingContext *CampaignSendingContext `gorm:"foreignKey:CampaignID" json:"sending_context,omitempty"`
	User           User                    `json:"-"`
}

// CampaignSendingContext holds the per-campaign runtime sending state
type CampaignSendingContext struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex" json:"campaign_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	// Sending window, local time of day "HH:MM"
	WindowStart string `gorm:"default:'09:00'" json:"window_start"`
	WindowEnd   string `gorm:"default:'17:00'" json:"window_end"`
	Timezone    string `gorm:"default:'UTC'" json:"timezone"`

	// Daily cap
	DailySendLimit  int        `gorm:"default:25" json:"daily_send_limit"`
	EmailsSentToday int        `gorm:"default:0" json:"emails_sent_today"`
	LastSentAt      *time.Time `json:"last_sent_at"`

	// Sender identity
	SenderEmail string `gorm:"not null" json:"sender_email"`
	SenderName  string `json:"sender_name"`
	ReplyTo     string `json:"reply_to"`

	StopOnReply bool   `gorm:"default:true" json:"stop_on_reply"`
	Status      string `gorm:"default:'active'" json:"status"` // active, paused, completed

	// Relations
	Campaign Campaign `json:"-"`
}
