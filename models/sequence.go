package models

import "gorm.io/gorm"

// EmailSequence anchors follow-up steps on an original sent email
type EmailSequence struct {
	gorm.Model
	CampaignID       uint `gorm:"not null;index" json:"campaign_id"`
	ProspectID       uint `gorm:"not null;index" json:"prospect_id"`
	GeneratedEmailID uint `gorm:"not null;uniqueIndex" json:"generated_email_id"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep is one follow-up template inside a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber       int    `gorm:"not null" json:"step_number"`
	DaysAfterInitial int    `gorm:"not null" json:"days_after_initial"`
	Angle            string `json:"angle"` // softer, breakup
	Subject          string `gorm:"not null" json:"subject"`
	Body             string `gorm:"type:text;not null" json:"body"`

	Status string `gorm:"default:'pending'" json:"status"` // pending, sent, rejected

	// Relations
	Sequence EmailSequence `json:"-"`
}
