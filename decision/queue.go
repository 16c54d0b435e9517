package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coldreach/apperr"
	"coldreach/models"

	"gorm.io/gorm"
)

// Notifier receives decisions whose gate requires admin notification
type Notifier interface {
	Notify(d *models.Decision)
}

// Service owns the decision queue and its safety-gate rules
type Service struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Notifier Notifier

	// Gate 2 delay before auto-execution
	ScheduleDelay time.Duration
}

// NewService creates a decision queue service
func NewService(db *gorm.DB, logger *log.Logger, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		DB:            db,
		Logger:        logger,
		Notifier:      notifier,
		ScheduleDelay: time.Hour,
	}
}

// EnqueueInput describes a proposed autonomous action
type EnqueueInput struct {
	UserID             *uint
	Title              string
	Category           string // revenue, product, marketing, support, retention, onboarding, acquisition, strategic
	Urgency            string // critical, high, medium, low
	SafetyGate         int    // 0..4
	ProposedAction     interface{}
	CreatedBy          string // system, ai, user
	ConfirmationPhrase string // gate 4 only
}

// Enqueue records a decision and applies its gate's creation outcome.
// The returned decision is already terminal for gates 0 and 1.
func (s *Service) Enqueue(input EnqueueInput) (*models.Decision, error) {
	if input.SafetyGate < models.GateAutoLog || input.SafetyGate > models.GateConfirmApproval {
		return nil, apperr.Validation(fmt.Sprintf("invalid safety gate %d", input.SafetyGate))
	}
	if input.CreatedBy == "" {
		input.CreatedBy = "system"
	}

	payload, err := json.Marshal(input.ProposedAction)
	if err != nil {
		return nil, apperr.Validation("proposed action is not serializable")
	}

	now := time.Now()
	d := models.Decision{
		UserID:             input.UserID,
		Title:              input.Title,
		Category:           input.Category,
		Urgency:            input.Urgency,
		SafetyGate:         input.SafetyGate,
		ProposedAction:     string(payload),
		CreatedBy:          input.CreatedBy,
		ConfirmationPhrase: input.ConfirmationPhrase,
	}

	switch input.SafetyGate {
	case models.GateAutoLog, models.GateAutoNotify:
		// Gates 0 and 1 resolve synchronously with their creation
		d.Status = models.DecisionAutoExecuted
		d.ResolvedAt = &now
	case models.GateDelayedExecute:
		d.Status = models.DecisionScheduled
		scheduledFor := now.Add(s.ScheduleDelay)
		d.ScheduledFor = &scheduledFor
		expires := now.Add(expiryForUrgency(input.Urgency))
		d.ExpiresAt = &expires
	default: // gates 3 and 4 never auto-execute
		d.Status = models.DecisionPending
		expires := now.Add(expiryForUrgency(input.Urgency))
		d.ExpiresAt = &expires
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&d).Error; err != nil {
			return err
		}
		return s.writeGateLog(tx, &d, "", d.Status, input.CreatedBy, "", d.ProposedAction)
	})
	if err != nil {
		return nil, err
	}

	if input.SafetyGate >= models.GateAutoNotify && s.Notifier != nil {
		s.Notifier.Notify(&d)
	}

	return &d, nil
}

// Resolve approves or rejects a pending or scheduled decision.
// Any other current state yields a StateConflict.
func (s *Service) Resolve(decisionID uint, status string, outcome interface{}, resolvedBy, confirmation string) (*models.Decision, error) {
	if status != models.DecisionApproved && status != models.DecisionRejected {
		return nil, apperr.Validation("resolution status must be approved or rejected")
	}

	var d models.Decision
	if err := s.DB.First(&d, decisionID).Error; err != nil {
		return nil, apperr.NotFound("decision")
	}

	if d.SafetyGate == models.GateConfirmApproval && status == models.DecisionApproved {
		if confirmation == "" || confirmation != d.ConfirmationPhrase {
			return nil, apperr.Validation("confirmation phrase does not match")
		}
	}

	outcomePayload := ""
	if outcome != nil {
		raw, err := json.Marshal(outcome)
		if err != nil {
			return nil, apperr.Validation("outcome is not serializable")
		}
		outcomePayload = string(raw)
	}

	now := time.Now()
	priorStatus := d.Status

	var resolved *models.Decision
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Decision{}).
			Where("id = ? AND status IN ?", decisionID, []string{models.DecisionPending, models.DecisionScheduled}).
			Updates(map[string]interface{}{
				"status":      status,
				"outcome":     outcomePayload,
				"resolved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict(fmt.Sprintf("decision %d is not pending or scheduled", decisionID))
		}

		var after models.Decision
		if err := tx.First(&after, decisionID).Error; err != nil {
			return err
		}
		resolved = &after
		return s.writeGateLog(tx, &after, priorStatus, status, resolvedBy, d.ProposedAction, outcomePayload)
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// RunMaintenance executes due scheduled decisions and expires stale ones.
// Runs hourly from the scheduler.
func (s *Service) RunMaintenance(ctx context.Context) error {
	now := time.Now()

	// Execute gate-2 decisions whose delay has passed and that are still scheduled
	var due []models.Decision
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.DecisionScheduled, now).
		Find(&due).Error; err != nil {
		return err
	}
	for i := range due {
		d := &due[i]
		res := s.DB.Model(&models.Decision{}).
			Where("id = ? AND status = ?", d.ID, models.DecisionScheduled).
			Updates(map[string]interface{}{
				"status":      models.DecisionAutoExecuted,
				"resolved_at": now,
			})
		if res.Error != nil {
			s.Logger.Printf("failed to auto-execute decision %d: %v", d.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue // resolved or cancelled between select and update
		}
		if err := s.writeGateLog(s.DB, d, models.DecisionScheduled, models.DecisionAutoExecuted, "maintenance", d.ProposedAction, ""); err != nil {
			s.Logger.Printf("failed to log auto-execution for decision %d: %v", d.ID, err)
		}
	}

	// Expire pending/scheduled decisions past their expiry
	var stale []models.Decision
	if err := s.DB.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?",
			[]string{models.DecisionPending, models.DecisionScheduled}, now).
		Find(&stale).Error; err != nil {
		return err
	}
	for i := range stale {
		d := &stale[i]
		priorStatus := d.Status
		res := s.DB.Model(&models.Decision{}).
			Where("id = ? AND status = ?", d.ID, priorStatus).
			Update("status", models.DecisionExpired)
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		if err := s.writeGateLog(s.DB, d, priorStatus, models.DecisionExpired, "maintenance", d.ProposedAction, ""); err != nil {
			s.Logger.Printf("failed to log expiry for decision %d: %v", d.ID, err)
		}
	}

	return nil
}

func (s *Service) writeGateLog(tx *gorm.DB, d *models.Decision, from, to, actor, before, after string) error {
	return tx.Create(&models.SafetyGateLog{
		DecisionID:    d.ID,
		FromStatus:    from,
		ToStatus:      to,
		Actor:         actor,
		BeforePayload: before,
		AfterPayload:  after,
	}).Error
}

// Default expiry windows by urgency
func expiryForUrgency(urgency string) time.Duration {
	switch urgency {
	case models.UrgencyCritical:
		return 24 * time.Hour
	case models.UrgencyHigh:
		return 3 * 24 * time.Hour
	case models.UrgencyMedium:
		return 7 * 24 * time.Hour
	default:
		return 14 * 24 * time.Hour
	}
}
