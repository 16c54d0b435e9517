package retention

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"coldreach/decision"
	"coldreach/llm"
	"coldreach/models"
	"coldreach/pipeline"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Cooldown windows between repeated interventions of the same type
const (
	habitCooldown       = 7 * 24 * time.Hour
	expansionCooldown   = 14 * 24 * time.Hour
	winBackCooldown     = 14 * 24 * time.Hour
	testimonialCooldown = 60 * 24 * time.Hour
	stuckNudgeCooldown  = 7 * 24 * time.Hour
)

// Engine recomputes engagement scores and fires retention interventions
type Engine struct {
	DB        *gorm.DB
	Decisions *decision.Service
	LLM       llm.Provider
	Logger    *log.Logger

	Now func() time.Time
}

// NewEngine creates a retention engine
func NewEngine(db *gorm.DB, decisions *decision.Service, provider llm.Provider, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		DB:        db,
		Decisions: decisions,
		LLM:       provider,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Run is the daily job: score every active user, then evaluate the
// intervention rules against the fresh score
func (e *Engine) Run(ctx context.Context) error {
	var users []models.User
	err := e.DB.WithContext(ctx).
		Preload("Plan").
		Where("is_active = ?", true).
		Find(&users).Error
	if err != nil {
		return err
	}

	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		user := &users[i]

		score, err := e.ComputeScore(user)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": user.ID,
				"error":   err.Error(),
			}).Error("engagement scoring failed")
			continue
		}
		if err := e.evaluateInterventions(ctx, user, score); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": user.ID,
				"error":   err.Error(),
			}).Error("retention intervention failed")
		}
	}
	return nil
}

// ComputeScore recalculates the four engagement components and upserts
// the user's EngagementScore row
func (e *Engine) ComputeScore(user *models.User) (*models.EngagementScore, error) {
	now := e.Now()

	login, err := e.loginFrequency(user.ID, now)
	if err != nil {
		return nil, err
	}
	approval, err := e.approvalRate(user.ID, now)
	if err != nil {
		return nil, err
	}
	activity, err := e.campaignActivity(user.ID)
	if err != nil {
		return nil, err
	}
	replies, err := e.replyEngagement(user.ID, now)
	if err != nil {
		return nil, err
	}

	total := login + approval + activity + replies

	score := models.EngagementScore{
		UserID:           user.ID,
		LoginFrequency:   login,
		ApprovalRate:     approval,
		CampaignActivity: activity,
		ReplyEngagement:  replies,
		Total:            total,
		ChurnRisk:        churnRisk(total),
		ComputedAt:       now,
	}

	var existing models.EngagementScore
	err = e.DB.Where("user_id = ?", user.ID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := e.DB.Create(&score).Error; err != nil {
			return nil, err
		}
		return &score, nil
	}
	if err != nil {
		return nil, err
	}

	err = e.DB.Model(&existing).Updates(map[string]interface{}{
		"login_frequency":   login,
		"approval_rate":     approval,
		"campaign_activity": activity,
		"reply_engagement":  replies,
		"total":             total,
		"churn_risk":        score.ChurnRisk,
		"computed_at":       now,
	}).Error
	if err != nil {
		return nil, err
	}
	score.Model = existing.Model
	return &score, nil
}

// loginFrequency: min(25, round(logins_last_7d / 7 * 25)). Login events
// are approximated by last_login_at since there is no login audit table:
// a login inside the window counts as daily usage since that login.
func (e *Engine) loginFrequency(userID uint, now time.Time) (int, error) {
	var user models.User
	if err := e.DB.Select("last_login_at").First(&user, userID).Error; err != nil {
		return 0, err
	}
	if user.LastLoginAt == nil {
		return 0, nil
	}
	since := now.Sub(*user.LastLoginAt)
	if since > 7*24*time.Hour {
		return 0, nil
	}
	days := 7 - int(since.Hours()/24)
	return clampComponent(round(float64(days) / 7.0 * 25.0)), nil
}

// approvalRate: round(25 * approved / reviewed) over the last 30 days,
// 0 with no reviews. A regenerated draft counts as a review via its
// rejected predecessor state.
func (e *Engine) approvalRate(userID uint, now time.Time) (int, error) {
	cutoff := now.Add(-30 * 24 * time.Hour)

	var approved, reviewed int64
	err := e.DB.Model(&models.GeneratedEmail{}).
		Where("user_id = ? AND updated_at >= ? AND status IN ?",
			userID, cutoff, []string{models.EmailApproved, models.EmailSent}).
		Count(&approved).Error
	if err != nil {
		return 0, err
	}
	err = e.DB.Model(&models.GeneratedEmail{}).
		Where("user_id = ? AND updated_at >= ? AND status IN ?",
			userID, cutoff, []string{models.EmailApproved, models.EmailSent, models.EmailRejected}).
		Count(&reviewed).Error
	if err != nil {
		return 0, err
	}
	if reviewed == 0 {
		return 0, nil
	}
	return clampComponent(round(25.0 * float64(approved) / float64(reviewed))), nil
}

// campaignActivity: min(25, active_unarchived_campaigns * 8)
func (e *Engine) campaignActivity(userID uint) (int, error) {
	var active int64
	err := e.DB.Model(&models.Campaign{}).
		Where("user_id = ? AND status = ? AND is_archived = ?", userID, "active", false).
		Count(&active).Error
	if err != nil {
		return 0, err
	}
	return clampComponent(int(active) * 8), nil
}

// replyEngagement: round(25 * responded / total_replies) over the last
// 30 days, 0 with no replies. Responded means the reply's draft was
// approved by the user.
func (e *Engine) replyEngagement(userID uint, now time.Time) (int, error) {
	cutoff := now.Add(-30 * 24 * time.Hour)

	var total, responded int64
	err := e.DB.Model(&models.ProspectReply{}).
		Where("user_id = ? AND received_at >= ?", userID, cutoff).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	err = e.DB.Model(&models.ProspectReply{}).
		Joins("JOIN reply_drafts rd ON rd.reply_id = prospect_replies.id AND rd.status = ? AND rd.deleted_at IS NULL", "approved").
		Where("prospect_replies.user_id = ? AND prospect_replies.received_at >= ?", userID, cutoff).
		Count(&responded).Error
	if err != nil {
		return 0, err
	}
	return clampComponent(round(25.0 * float64(responded) / float64(total))), nil
}

func (e *Engine) evaluateInterventions(ctx context.Context, user *models.User, score *models.EngagementScore) error {
	now := e.Now()

	// habit_reinforcement: slipping users who have not logged in for 3+ days
	if score.ChurnRisk != models.ChurnLow && e.daysSinceLogin(user, now) >= 3 {
		fired, err := e.firedWithin(user.ID, models.ActionHabitReinforcement, habitCooldown)
		if err != nil {
			return err
		}
		if !fired {
			if err := e.fire(user, models.ActionHabitReinforcement,
				fmt.Sprintf("churn_risk=%s, no login for %d days", score.ChurnRisk, e.daysSinceLogin(user, now)),
				decision.EnqueueInput{
					Title:    fmt.Sprintf("Re-engage %s with a habit nudge", user.Email),
					Category: models.CategoryRetention,
					Urgency:  models.UrgencyLow,
					SafetyGate: models.GateAutoNotify,
					ProposedAction: map[string]interface{}{
						"action":  models.ActionHabitReinforcement,
						"user_id": user.ID,
					},
				}); err != nil {
				return err
			}
		}
	}

	// expansion_prompt: heavy usage on a non-top-tier plan
	if user.Plan == nil || !user.Plan.IsTopTier {
		used, limit, err := pipeline.MonthlyProspectUsage(e.DB, user.ID)
		if err != nil {
			return err
		}
		if limit > 0 && float64(used) >= 0.8*float64(limit) {
			fired, err := e.firedWithin(user.ID, models.ActionExpansionPrompt, expansionCooldown)
			if err != nil {
				return err
			}
			if !fired {
				if err := e.fire(user, models.ActionExpansionPrompt,
					fmt.Sprintf("prospect usage %d/%d this month", used, limit),
					decision.EnqueueInput{
						Title:      fmt.Sprintf("Offer %s a plan upgrade", user.Email),
						Category:   models.CategoryRevenue,
						Urgency:    models.UrgencyMedium,
						SafetyGate: models.GateDelayedExecute,
						ProposedAction: map[string]interface{}{
							"action":  models.ActionExpansionPrompt,
							"user_id": user.ID,
							"used":    used,
							"limit":   limit,
						},
					}); err != nil {
					return err
				}
			}
		}
	}

	// win_back: critical churn risk gets an AI-drafted personal email
	if score.ChurnRisk == models.ChurnCritical {
		fired, err := e.firedWithin(user.ID, models.ActionWinBack, winBackCooldown)
		if err != nil {
			return err
		}
		if !fired {
			if err := e.fireWinBack(ctx, user, score); err != nil {
				return err
			}
		}
	}

	// testimonial_request: only the most engaged users get asked
	if score.Total >= 80 {
		fired, err := e.firedWithin(user.ID, models.ActionTestimonialRequest, testimonialCooldown)
		if err != nil {
			return err
		}
		if !fired {
			if err := e.fire(user, models.ActionTestimonialRequest,
				fmt.Sprintf("engagement score %d", score.Total),
				decision.EnqueueInput{
					Title:      fmt.Sprintf("Ask %s for a testimonial", user.Email),
					Category:   models.CategoryMarketing,
					Urgency:    models.UrgencyLow,
					SafetyGate: models.GateDelayedExecute,
					ProposedAction: map[string]interface{}{
						"action":  models.ActionTestimonialRequest,
						"user_id": user.ID,
						"score":   score.Total,
					},
				}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) fireWinBack(ctx context.Context, user *models.User, score *models.EngagementScore) error {
	name := user.Email
	if user.Name != nil && *user.Name != "" {
		name = *user.Name
	}
	prompt := fmt.Sprintf(`Write a short win-back email to a churning SaaS user.

User: %s
Product: ColdReach, an autonomous cold outreach platform.
Their engagement score is %d of 100 and falling.

Tone: personal, no guilt, one concrete offer to help. At most 90 words.
Respond as JSON: {"subject": "", "body": ""}`, name, score.Total)

	var draft struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if _, err := e.LLM.CallJSON(ctx, user.ID, llm.TaskWinBack, prompt, &draft); err != nil {
		return err
	}

	return e.fire(user, models.ActionWinBack,
		fmt.Sprintf("churn_risk=critical, score %d", score.Total),
		decision.EnqueueInput{
			Title:      fmt.Sprintf("Send win-back email to %s", user.Email),
			Category:   models.CategoryRetention,
			Urgency:    models.UrgencyHigh,
			SafetyGate: models.GateDelayedExecute,
			ProposedAction: map[string]interface{}{
				"action":  models.ActionWinBack,
				"user_id": user.ID,
				"subject": draft.Subject,
				"body":    draft.Body,
			},
		})
}

// fire enqueues the decision and records the RetentionAction linking to it
func (e *Engine) fire(user *models.User, actionType, reason string, input decision.EnqueueInput) error {
	input.UserID = &user.ID
	d, err := e.Decisions.Enqueue(input)
	if err != nil {
		return err
	}
	action := models.RetentionAction{
		UserID:        user.ID,
		DecisionID:    &d.ID,
		ActionType:    actionType,
		TriggerReason: reason,
	}
	if err := e.DB.Create(&action).Error; err != nil {
		return err
	}
	e.Logger.Printf("🔄 Retention action %s fired for user %d (decision %d)", actionType, user.ID, d.ID)
	return nil
}

// firedWithin reports whether an action of this type fired inside the window
func (e *Engine) firedWithin(userID uint, actionType string, window time.Duration) (bool, error) {
	var count int64
	err := e.DB.Model(&models.RetentionAction{}).
		Where("user_id = ? AND action_type = ? AND created_at >= ?",
			userID, actionType, e.Now().Add(-window)).
		Count(&count).Error
	return count > 0, err
}

// RunStuckUserDetection runs every 6 hours: users with drafts pending
// review for 72+ hours and no review activity get a gentle gate-1 nudge
func (e *Engine) RunStuckUserDetection(ctx context.Context) error {
	cutoff := e.Now().Add(-72 * time.Hour)

	var userIDs []uint
	err := e.DB.WithContext(ctx).Model(&models.GeneratedEmail{}).
		Distinct("user_id").
		Where("status = ? AND created_at <= ?", models.EmailPendingApproval, cutoff).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Review activity since the cutoff means they are not stuck
		var reviewed int64
		err := e.DB.Model(&models.GeneratedEmail{}).
			Where("user_id = ? AND updated_at > ? AND status IN ?",
				userID, cutoff, []string{models.EmailApproved, models.EmailRejected, models.EmailSent}).
			Count(&reviewed).Error
		if err != nil {
			return err
		}
		if reviewed > 0 {
			continue
		}

		fired, err := e.firedWithin(userID, models.ActionStuckUserNudge, stuckNudgeCooldown)
		if err != nil {
			return err
		}
		if fired {
			continue
		}

		var user models.User
		if err := e.DB.First(&user, userID).Error; err != nil {
			continue
		}
		var pending int64
		e.DB.Model(&models.GeneratedEmail{}).
			Where("user_id = ? AND status = ?", userID, models.EmailPendingApproval).
			Count(&pending)

		err = e.fire(&user, models.ActionStuckUserNudge,
			fmt.Sprintf("%d drafts pending review for 72+ hours", pending),
			decision.EnqueueInput{
				Title:      fmt.Sprintf("Nudge %s about %d unreviewed drafts", user.Email, pending),
				Category:   models.CategoryOnboarding,
				Urgency:    models.UrgencyLow,
				SafetyGate: models.GateAutoNotify,
				ProposedAction: map[string]interface{}{
					"action":         models.ActionStuckUserNudge,
					"user_id":        userID,
					"pending_drafts": pending,
				},
			})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err.Error(),
			}).Error("stuck-user nudge failed")
		}
	}
	return nil
}

func (e *Engine) daysSinceLogin(user *models.User, now time.Time) int {
	if user.LastLoginAt == nil {
		if user.CreatedAt.IsZero() {
			return 0
		}
		return int(now.Sub(user.CreatedAt).Hours() / 24)
	}
	return int(now.Sub(*user.LastLoginAt).Hours() / 24)
}

func churnRisk(total int) string {
	switch {
	case total < 20:
		return models.ChurnCritical
	case total < 40:
		return models.ChurnHigh
	case total < 65:
		return models.ChurnMedium
	default:
		return models.ChurnLow
	}
}

func clampComponent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 25 {
		return 25
	}
	return v
}

func round(v float64) int {
	return int(math.Round(v))
}
