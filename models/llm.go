package models

import (
	"time"

	"gorm.io/gorm"
)

// LLMResponseCache stores completed model responses keyed by input hash
type LLMResponseCache struct {
	gorm.Model
	TaskTag   string    `gorm:"not null;index" json:"task_tag"`
	InputHash string    `gorm:"not null;uniqueIndex" json:"input_hash"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	ModelName string    `json:"model_name"`
	HitCount  int       `gorm:"default:0" json:"hit_count"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// LLMUsage records one model call for budget accounting
type LLMUsage struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	TaskTag   string `gorm:"not null" json:"task_tag"`
	ModelName string `json:"model_name"`
	Cached    bool   `gorm:"default:false" json:"cached"`

	TokensIn  int `gorm:"default:0" json:"tokens_in"`
	TokensOut int `gorm:"default:0" json:"tokens_out"`
	CostCents int `gorm:"default:0" json:"cost_cents"`
	LatencyMS int `gorm:"default:0" json:"latency_ms"`

	// "2006-01" bucket for the monthly budget query
	Month string `gorm:"not null;index" json:"month"`
}
