package models

import "gorm.io/gorm"

// Initialize default plans in your database migration
func CreateDefaultPlans(db *gorm.DB) error {
	defaultPlans := []Plan{
		{
			Name:                 "free",
			Description:          "Free plan with 25 prospects per month",
			MonthlyProspectLimit: 25,
			AIBudgetCents:        100,
			DailySendLimit:       10,
			PriceCents:           0,
		},
		{
			Name:                 "starter",
			Description:          "Starter plan with 250 prospects per month",
			MonthlyProspectLimit: 250,
			AIBudgetCents:        500,
			DailySendLimit:       25,
			PriceCents:           4900, // $49
		},
		{
			Name:                 "growth",
			Description:          "Growth plan with 1,000 prospects per month",
			MonthlyProspectLimit: 1000,
			AIBudgetCents:        2000,
			DailySendLimit:       50,
			PriceCents:           9900, // $99
		},
		{
			Name:                 "scale",
			Description:          "Scale plan with 5,000 prospects per month",
			MonthlyProspectLimit: 5000,
			AIBudgetCents:        10000,
			DailySendLimit:       100,
			PriceCents:           24900, // $249
			IsTopTier:            true,
		},
	}
	for _, plan := range defaultPlans {
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}

// AllModels lists every entity for AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Plan{},
		&Campaign{},
		&CampaignSendingContext{},
		&Prospect{},
		&GeneratedEmail{},
		&SendQueueRow{},
		&EmailSequence{},
		&SequenceStep{},
		&ProspectReply{},
		&ReplyDraft{},
		&Decision{},
		&SafetyGateLog{},
		&EngagementScore{},
		&RetentionAction{},
		&WebhookEvent{},
		&Report{},
		&LLMResponseCache{},
		&LLMUsage{},
	}
}
