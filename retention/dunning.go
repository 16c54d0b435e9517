package retention

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"time"

	"coldreach/decision"
	"coldreach/mailer"
	"coldreach/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransactionalSender delivers product email. Satisfied by
// mailer.TransactionalMailer; stubbed in tests.
type TransactionalSender interface {
	Send(data mailer.TransactionalData) error
}

// Dunning advances payment-failed users through the escalation ladder
type Dunning struct {
	DB         *gorm.DB
	Decisions  *decision.Service
	Mailer     TransactionalSender
	Logger     *log.Logger
	BillingURL string

	Now func() time.Time
}

// NewDunning creates a dunning engine
func NewDunning(db *gorm.DB, decisions *decision.Service, tm TransactionalSender, billingURL string, logger *log.Logger) *Dunning {
	if logger == nil {
		logger = log.Default()
	}
	if billingURL == "" {
		billingURL = "https://app.coldreach.io/billing"
	}
	return &Dunning{
		DB:         db,
		Decisions:  decisions,
		Mailer:     tm,
		Logger:     logger,
		BillingURL: billingURL,
		Now:        time.Now,
	}
}

// HandlePaymentFailed is the webhook entry point: marks the user
// past_due and starts the ladder with a day-0 action. Idempotent per
// billing cycle via the day-0 existence check.
func (dn *Dunning) HandlePaymentFailed(userID uint) error {
	var user models.User
	if err := dn.DB.First(&user, userID).Error; err != nil {
		return err
	}

	if err := dn.DB.Model(&user).Update("subscription_status", "past_due").Error; err != nil {
		return err
	}

	// A day-0 inside the last 14 days means this cycle already started
	fired, err := dn.firedWithin(userID, models.ActionDunningDay0, 14*24*time.Hour)
	if err != nil {
		return err
	}
	if fired {
		return nil
	}

	return dn.advance(&user, models.ActionDunningDay0, models.GateAutoNotify, 0)
}

// Run is the daily advance: walks every past_due user up the ladder
func (dn *Dunning) Run(ctx context.Context) error {
	var users []models.User
	err := dn.DB.WithContext(ctx).
		Where("subscription_status = ?", "past_due").
		Find(&users).Error
	if err != nil {
		return err
	}

	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dn.advanceUser(&users[i]); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": users[i].ID,
				"error":   err.Error(),
			}).Error("dunning advance failed")
		}
	}
	return nil
}

func (dn *Dunning) advanceUser(user *models.User) error {
	day0, err := dn.latestAction(user.ID, models.ActionDunningDay0)
	if err != nil {
		return err
	}
	if day0 == nil {
		// past_due without a day-0 action: webhook was missed, start over
		return dn.advance(user, models.ActionDunningDay0, models.GateAutoNotify, 0)
	}

	days := int(dn.Now().Sub(day0.CreatedAt).Hours() / 24)

	switch {
	case days >= 14:
		done, err := dn.firedSince(user.ID, models.ActionDunningDay14, day0.CreatedAt)
		if err != nil || done {
			return err
		}
		return dn.downgrade(user, days)
	case days >= 7:
		done, err := dn.firedSince(user.ID, models.ActionDunningDay7, day0.CreatedAt)
		if err != nil || done {
			return err
		}
		return dn.advance(user, models.ActionDunningDay7, models.GateDelayedExecute, days)
	case days >= 3:
		done, err := dn.firedSince(user.ID, models.ActionDunningDay3, day0.CreatedAt)
		if err != nil || done {
			return err
		}
		return dn.advance(user, models.ActionDunningDay3, models.GateAutoNotify, days)
	}
	return nil
}

// advance fires one ladder step: decision, retention action, email
func (dn *Dunning) advance(user *models.User, actionType string, gate, daysPastDue int) error {
	urgency := models.UrgencyMedium
	if gate >= models.GateDelayedExecute {
		urgency = models.UrgencyHigh
	}

	d, err := dn.Decisions.Enqueue(decision.EnqueueInput{
		UserID:     &user.ID,
		Title:      fmt.Sprintf("Dunning %s for %s", stepLabel(actionType), user.Email),
		Category:   models.CategoryRevenue,
		Urgency:    urgency,
		SafetyGate: gate,
		ProposedAction: map[string]interface{}{
			"action":        actionType,
			"user_id":       user.ID,
			"days_past_due": daysPastDue,
		},
	})
	if err != nil {
		return err
	}

	action := models.RetentionAction{
		UserID:        user.ID,
		DecisionID:    &d.ID,
		ActionType:    actionType,
		TriggerReason: fmt.Sprintf("payment failed %d days ago", daysPastDue),
	}
	if err := dn.DB.Create(&action).Error; err != nil {
		return err
	}

	if err := dn.sendDunningEmail(user, actionType); err != nil {
		dn.Logger.Printf("⚠️ dunning email (%s) to user %d failed: %v", actionType, user.ID, err)
	}

	dn.Logger.Printf("Dunning %s fired for user %d", stepLabel(actionType), user.ID)
	return nil
}

// downgrade is the day-14 terminal step: plan to free, subscription
// canceled, in one guarded update so a concurrent webhook cannot race it
func (dn *Dunning) downgrade(user *models.User, daysPastDue int) error {
	var freePlan models.Plan
	if err := dn.DB.Where("name = ?", "free").First(&freePlan).Error; err != nil {
		return err
	}

	res := dn.DB.Model(&models.User{}).
		Where("id = ? AND subscription_status = ?", user.ID, "past_due").
		Updates(map[string]interface{}{
			"plan_id":             freePlan.ID,
			"plan_name":           "free",
			"subscription_status": "canceled",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // payment recovered or already downgraded
	}

	return dn.advance(user, models.ActionDunningDay14, models.GateDelayedExecute, daysPastDue)
}

func (dn *Dunning) sendDunningEmail(user *models.User, actionType string) error {
	name := user.Email
	if user.Name != nil && *user.Name != "" {
		name = *user.Name
	}

	subject, heading, body := dunningCopy(actionType)
	return dn.Mailer.Send(mailer.TransactionalData{
		Subject:  subject,
		To:       []string{user.Email},
		Template: "dunning",
		Data: map[string]interface{}{
			"Subject":    subject,
			"Heading":    heading,
			"Name":       name,
			"BodyHTML":   template.HTML(body),
			"BillingURL": dn.BillingURL,
			"Year":       dn.Now().Year(),
		},
	})
}

func dunningCopy(actionType string) (subject, heading, body string) {
	switch actionType {
	case models.ActionDunningDay0:
		return "Payment issue on your ColdReach account",
			"We couldn't process your payment",
			"<p>Your latest payment didn't go through. Your campaigns keep running for now. Please update your payment method so nothing gets interrupted.</p>"
	case models.ActionDunningDay3:
		return "Reminder: payment still failing",
			"Your payment still hasn't gone through",
			"<p>We've retried your payment without luck. Please update your card details within the next few days to keep your plan active.</p>"
	case models.ActionDunningDay7:
		return "Action needed to keep your plan",
			"One week past due",
			"<p>Your account is a week past due. If the payment keeps failing your plan will be downgraded to Free, which pauses sending beyond the free limits.</p>"
	default:
		return "Your ColdReach plan was downgraded",
			"Your plan has moved to Free",
			"<p>After two weeks of failed payments your plan was downgraded to Free. Your data and campaigns are intact; upgrade any time to resume full sending.</p>"
	}
}

func stepLabel(actionType string) string {
	switch actionType {
	case models.ActionDunningDay0:
		return "day 0"
	case models.ActionDunningDay3:
		return "day 3"
	case models.ActionDunningDay7:
		return "day 7"
	default:
		return "day 14"
	}
}

func (dn *Dunning) latestAction(userID uint, actionType string) (*models.RetentionAction, error) {
	var action models.RetentionAction
	err := dn.DB.Where("user_id = ? AND action_type = ?", userID, actionType).
		Order("created_at desc").
		First(&action).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (dn *Dunning) firedWithin(userID uint, actionType string, window time.Duration) (bool, error) {
	var count int64
	err := dn.DB.Model(&models.RetentionAction{}).
		Where("user_id = ? AND action_type = ? AND created_at >= ?",
			userID, actionType, dn.Now().Add(-window)).
		Count(&count).Error
	return count > 0, err
}

func (dn *Dunning) firedSince(userID uint, actionType string, since time.Time) (bool, error) {
	var count int64
	err := dn.DB.Model(&models.RetentionAction{}).
		Where("user_id = ? AND action_type = ? AND created_at >= ?", userID, actionType, since).
		Count(&count).Error
	return count > 0, err
}
