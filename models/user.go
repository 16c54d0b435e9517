package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`

	// Profile information
	Name      *string `json:"name,omitempty"`
	Company   *string `json:"company,omitempty"`
	Timezone  string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	IsAdmin     bool       `gorm:"default:false" json:"is_admin"`
	IsBeta      bool       `gorm:"default:false" json:"is_beta"`
	BetaJoinedAt *time.Time `json:"beta_joined_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Sender identity used for cold outreach
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	ReplyTo     string `json:"reply_to"`

	// Plan information
	PlanID   *uint  `json:"plan_id,omitempty"`
	PlanName string `gorm:"default:'free'" json:"plan_name"` // free, starter, growth, scale

	// Stripe integration
	StripeCustomerID     *string `gorm:"index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string `gorm:"index" json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string  `gorm:"default:'none'" json:"subscription_status"` // none, active, past_due, canceled

	// Relations
	Campaigns        []Campaign        `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	RetentionActions []RetentionAction `gorm:"foreignKey:UserID" json:"retention_actions,omitempty"`
	Plan             *Plan             `json:"plan,omitempty"`
}

// Plan represents available subscription tiers
type Plan struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"` // free, starter, growth, scale
	Description string `json:"description"`

	// Monthly quotas
	MonthlyProspectLimit int `gorm:"not null" json:"monthly_prospect_limit"`
	AIBudgetCents        int `gorm:"not null" json:"ai_budget_cents"`
	DailySendLimit       int `gorm:"default:50" json:"daily_send_limit"`

	// Pricing
	PriceCents    int    `gorm:"not null" json:"price_cents"`
	StripePriceID string `json:"stripe_price_id"`
	IsTopTier     bool   `gorm:"default:false" json:"is_top_tier"`
}
