package pipeline

import (
	"context"
	"errors"
	"log"

	"coldreach/apperr"
	"coldreach/llm"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Limits bound the work selected at each stage boundary per tick
type Limits struct {
	DiscoverCampaigns    int // campaigns entering discovery
	ResearchCampaigns    int
	ResearchPerCampaign  int
	DraftCampaigns       int
	DraftPerCampaign     int
	EnqueueEmails        int
	CategorizeUsers      int
	CategorizePerUser    int
	ProspectsPerDiscover int // profiles requested from the model
}

// DefaultLimits are the stock batch caps
func DefaultLimits() Limits {
	return Limits{
		DiscoverCampaigns:    5,
		ResearchCampaigns:    5,
		ResearchPerCampaign:  5,
		DraftCampaigns:       5,
		DraftPerCampaign:     5,
		EnqueueEmails:        10,
		CategorizeUsers:      10,
		CategorizePerUser:    20,
		ProspectsPerDiscover: 10,
	}
}

// Driver advances prospects through the pipeline one bounded batch at a
// time. It holds no state between ticks; the datastore is the handoff.
type Driver struct {
	DB     *gorm.DB
	LLM    llm.Provider
	Logger *log.Logger
	Limits Limits
}

// NewDriver creates a pipeline driver with default limits
func NewDriver(db *gorm.DB, provider llm.Provider, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		DB:     db,
		LLM:    provider,
		Logger: logger,
		Limits: DefaultLimits(),
	}
}

// Run executes one tick. Stages run in pipeline order; a prospect never
// traverses two stages within one tick because each stage selects only
// entities already settled in its input state.
func (d *Driver) Run(ctx context.Context) error {
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"discover", d.RunDiscover},
		{"research", d.RunResearch},
		{"draft_email", d.RunDraftEmail},
		{"enqueue_approved", d.RunEnqueueApproved},
		{"categorize_replies", d.RunCategorizeReplies},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage.fn(ctx); err != nil {
			// A stage failure aborts only that stage for this tick
			logrus.WithFields(logrus.Fields{
				"stage": stage.name,
				"error": err.Error(),
			}).Error("pipeline stage failed")
		}
	}
	return nil
}

// isFatalForCampaign reports errors that should stop work on the whole
// campaign rather than a single prospect, budget exhaustion chiefly
func isFatalForCampaign(err error) bool {
	return apperr.Is(err, apperr.CodeQuotaExceeded)
}

// logEntityError records a per-entity failure without aborting the batch
func logEntityError(stage string, entity string, id uint, err error) {
	logrus.WithFields(logrus.Fields{
		"stage":  stage,
		"entity": entity,
		"id":     id,
		"code":   apperr.Code(err),
	}).Warn(err.Error())
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
