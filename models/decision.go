package models

import (
	"time"

	"gorm.io/gorm"
)

// Safety gates. Higher gates require more oversight before an action runs.
const (
	GateAutoLog         = 0 // log only, executes on insert
	GateAutoNotify      = 1 // executes on insert, admin notified
	GateDelayedExecute  = 2 // executes after a delay unless cancelled
	GateRequireApproval = 3 // never auto-executes
	GateConfirmApproval = 4 // approval requires a typed confirmation phrase
)

// Decision statuses
const (
	DecisionPending      = "pending"
	DecisionScheduled    = "scheduled"
	DecisionAutoExecuted = "auto_executed"
	DecisionApproved     = "approved"
	DecisionRejected     = "rejected"
	DecisionExpired      = "expired"
)

// Decision categories
const (
	CategoryRevenue     = "revenue"
	CategoryProduct     = "product"
	CategoryMarketing   = "marketing"
	CategorySupport     = "support"
	CategoryRetention   = "retention"
	CategoryOnboarding  = "onboarding"
	CategoryAcquisition = "acquisition"
	CategoryStrategic   = "strategic"
)

// Decision urgencies
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyMedium   = "medium"
	UrgencyLow      = "low"
)

// Decision records a proposed or executed autonomous action
type Decision struct {
	gorm.Model
	UserID *uint `gorm:"index" json:"user_id,omitempty"`

	Title    string `gorm:"not null" json:"title"`
	Category string `gorm:"not null;index" json:"category"` // revenue, product, marketing, support, retention, onboarding, acquisition, strategic
	Urgency  string `gorm:"not null" json:"urgency"`        // critical, high, medium, low

	SafetyGate int    `gorm:"not null;index" json:"safety_gate"` // 0..4
	Status     string `gorm:"default:'pending';index" json:"status"` // pending, scheduled, auto_executed, approved, rejected, expired

	ProposedAction string `gorm:"type:text" json:"proposed_action"` // JSON payload
	Outcome        string `gorm:"type:text" json:"outcome"`         // JSON payload
	CreatedBy      string `gorm:"default:'system'" json:"created_by"` // system, ai, user

	// Gate 4 approvals must echo this phrase
	ConfirmationPhrase string `json:"confirmation_phrase,omitempty"`

	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for,omitempty"` // gate 2 only
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at,omitempty"`

	// Relations
	GateLogs []SafetyGateLog `gorm:"foreignKey:DecisionID" json:"gate_logs,omitempty"`
}

// SafetyGateLog is an append-only audit record of a decision transition
type SafetyGateLog struct {
	gorm.Model
	DecisionID uint `gorm:"not null;index" json:"decision_id"`

	FromStatus string `json:"from_status"`
	ToStatus   string `gorm:"not null" json:"to_status"`
	Actor      string `gorm:"not null" json:"actor"` // system, maintenance, user id

	BeforePayload string `gorm:"type:text" json:"before_payload"`
	AfterPayload  string `gorm:"type:text" json:"after_payload"`

	// Relations
	Decision Decision `json:"-"`
}
