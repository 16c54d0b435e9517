package models

import (
	"gorm.io/gorm"
)

// Prospect lifecycle statuses, in pipeline order
const (
	ProspectDiscovered   = "discovered"
	ProspectResearched   = "researched"
	ProspectEmailDrafted = "email_drafted"
	ProspectApproved     = "approved"
	ProspectSent         = "sent"
	ProspectReplied      = "replied"
)

// prospectStatusRank orders statuses for forward-only checks
var prospectStatusRank = map[string]int{
	ProspectDiscovered:   0,
	ProspectResearched:   1,
	ProspectEmailDrafted: 2,
	ProspectApproved:     3,
	ProspectSent:         4,
	ProspectReplied:      5,
}

// ProspectStatusRank returns the pipeline position of a status, -1 if unknown
func ProspectStatusRank(status string) int {
	if r, ok := prospectStatusRank[status]; ok {
		return r
	}
	return -1
}

// Prospect represents a single discovered contact inside a campaign
type Prospect struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_email" json:"campaign_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	// Contact attributes
	Email     string `gorm:"not null;uniqueIndex:idx_campaign_email" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Website   string `json:"website"`
	Industry  string `json:"industry"`
	Location  string `json:"location"`

	// AI-derived fit score, 0-100
	FitScore int `gorm:"default:0" json:"fit_score"`

	// Pipeline state
	Status string `gorm:"default:'discovered';index" json:"status"` // discovered, researched, email_drafted, approved, sent, replied

	// Research output
	ResearchSummary    string `gorm:"type:text" json:"research_summary"`
	RecommendedAngle   string `gorm:"type:text" json:"recommended_angle"`
	DecisionMakerHints string `gorm:"type:text" json:"decision_maker_hints"`

	// Relations
	Campaign Campaign         `json:"-"`
	Emails   []GeneratedEmail `gorm:"foreignKey:ProspectID" json:"emails,omitempty"`
	Replies  []ProspectReply  `gorm:"foreignKey:ProspectID" json:"replies,omitempty"`
}
