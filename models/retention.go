package models

import (
	"time"

	"gorm.io/gorm"
)

// Churn risk buckets derived from the engagement score
const (
	ChurnLow      = "low"
	ChurnMedium   = "medium"
	ChurnHigh     = "high"
	ChurnCritical = "critical"
)

// EngagementScore is the per-user engagement snapshot, recomputed daily
type EngagementScore struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	// Components, each 0-25
	LoginFrequency   int `gorm:"default:0" json:"login_frequency"`
	ApprovalRate     int `gorm:"default:0" json:"approval_rate"`
	CampaignActivity int `gorm:"default:0" json:"campaign_activity"`
	ReplyEngagement  int `gorm:"default:0" json:"reply_engagement"`

	Total      int    `gorm:"default:0" json:"total"`                 // 0-100
	ChurnRisk  string `gorm:"default:'low';index" json:"churn_risk"` // low, medium, high, critical
	ComputedAt time.Time `json:"computed_at"`

	// Relations
	User User `json:"-"`
}

// Retention action types
const (
	ActionHabitReinforcement = "habit_reinforcement"
	ActionExpansionPrompt    = "expansion_prompt"
	ActionWinBack            = "win_back"
	ActionTestimonialRequest = "testimonial_request"
	ActionStuckUserNudge     = "stuck_user_nudge"
	ActionDunningDay0        = "dunning_day0"
	ActionDunningDay3        = "dunning_day3"
	ActionDunningDay7        = "dunning_day7"
	ActionDunningDay14       = "dunning_day14"
	ActionBetaDay1           = "beta_day1"
	ActionBetaDay3           = "beta_day3"
	ActionBetaDay7           = "beta_day7"
)

// RetentionAction records one fired intervention for a user
type RetentionAction struct {
	gorm.Model
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	DecisionID *uint `gorm:"index" json:"decision_id,omitempty"`

	ActionType    string `gorm:"not null;index" json:"action_type"`
	TriggerReason string `gorm:"type:text" json:"trigger_reason"`
	Metadata      string `gorm:"type:text" json:"metadata"` // JSON

	// Relations
	User     User      `json:"-"`
	Decision *Decision `json:"decision,omitempty"`
}
