package scheduler

import (
	"context"
	"time"

	"coldreach/decision"
	"coldreach/lifecycle"
	"coldreach/llm"
	"coldreach/models"
	"coldreach/pipeline"
	"coldreach/reports"
	"coldreach/retention"
	"coldreach/sendqueue"

	"gorm.io/gorm"
)

// Deps are the engines the job table is built from
type Deps struct {
	DB        *gorm.DB
	Pipeline  *pipeline.Driver
	SendQueue *sendqueue.Processor
	Decisions *decision.Service
	Retention *retention.Engine
	Dunning   *retention.Dunning
	Lifecycle *lifecycle.Mailer
	Reports   *reports.Generator
	LLM       *llm.Client
}

// RegisterAll wires the full job table into the scheduler.
// Deadlines are 2x the cadence, 10x for reports.
func RegisterAll(s *Scheduler, deps Deps) error {
	jobs := []Job{
		{Name: "pipeline", Spec: "*/15 * * * *", Timeout: 30 * time.Minute, Run: deps.Pipeline.Run},
		{Name: "send-queue", Spec: "*/5 * * * *", Timeout: 10 * time.Minute, Run: deps.SendQueue.Run},
		{Name: "follow-up-generation", Spec: "0 0 * * *", Timeout: 48 * time.Hour, Run: deps.Pipeline.RunFollowUpGeneration},
		{Name: "beta-lifecycle", Spec: "0 * * * *", Timeout: 2 * time.Hour, Run: deps.Lifecycle.Run},
		{Name: "cache-cleanup", Spec: "0 3 * * *", Timeout: 48 * time.Hour, Run: cacheCleanup(deps)},
		{Name: "retention-scoring", Spec: "0 8 * * *", Timeout: 48 * time.Hour, Run: deps.Retention.Run},
		{Name: "dunning-advance", Spec: "0 9 * * *", Timeout: 48 * time.Hour, Run: deps.Dunning.Run},
		{Name: "stuck-user-detection", Spec: "0 */6 * * *", Timeout: 12 * time.Hour, Run: deps.Retention.RunStuckUserDetection},
		{Name: "decision-maintenance", Spec: "30 * * * *", Timeout: 2 * time.Hour, Run: deps.Decisions.RunMaintenance},
		{Name: "support-retriage", Spec: "0 */4 * * *", Timeout: 8 * time.Hour, Run: supportRetriage(deps)},
		{Name: "weekly-report", Spec: "0 7 * * 1", Timeout: 70 * time.Hour, Run: deps.Reports.RunWeekly},
		{Name: "monthly-report", Spec: "0 7 1 * *", Timeout: 70 * time.Hour, Run: deps.Reports.RunMonthly},
		{Name: "quarterly-report", Spec: "0 7 1 1,4,7,10 *", Timeout: 70 * time.Hour, Run: deps.Reports.RunQuarterly},
	}

	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// cacheCleanup drops expired LLM cache rows and webhook events past the
// 90-day audit window
func cacheCleanup(deps Deps) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if deps.LLM != nil {
			if _, err := deps.LLM.CleanupCache(ctx); err != nil {
				return err
			}
		}
		cutoff := time.Now().Add(-90 * 24 * time.Hour)
		return deps.DB.WithContext(ctx).
			Unscoped().
			Where("created_at < ?", cutoff).
			Delete(&models.WebhookEvent{}).Error
	}
}

func supportRetriage(deps Deps) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return deps.Pipeline.RunRetriage(ctx, time.Hour)
	}
}
