package lifecycle

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"time"

	"coldreach/mailer"
	"coldreach/models"
	"coldreach/retention"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Beta milestone offsets in days after joining
var milestones = []struct {
	day        int
	actionType string
}{
	{1, models.ActionBetaDay1},
	{3, models.ActionBetaDay3},
	{7, models.ActionBetaDay7},
}

// Mailer sends beta onboarding milestone emails. Runs hourly so a
// milestone lands within an hour of its offset regardless of join time.
type Mailer struct {
	DB     *gorm.DB
	Sender retention.TransactionalSender
	Logger *log.Logger

	Now func() time.Time
}

// NewMailer creates the beta lifecycle mailer
func NewMailer(db *gorm.DB, sender retention.TransactionalSender, logger *log.Logger) *Mailer {
	if logger == nil {
		logger = log.Default()
	}
	return &Mailer{DB: db, Sender: sender, Logger: logger, Now: time.Now}
}

// Run checks every beta user against the milestone ladder and sends at
// most one email per milestone, recorded through RetentionAction rows
func (m *Mailer) Run(ctx context.Context) error {
	var users []models.User
	err := m.DB.WithContext(ctx).
		Where("is_beta = ? AND is_active = ? AND beta_joined_at IS NOT NULL", true, true).
		Find(&users).Error
	if err != nil {
		return err
	}

	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.processUser(&users[i]); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": users[i].ID,
				"error":   err.Error(),
			}).Error("beta lifecycle email failed")
		}
	}
	return nil
}

func (m *Mailer) processUser(user *models.User) error {
	daysIn := int(m.Now().Sub(*user.BetaJoinedAt).Hours() / 24)

	for _, milestone := range milestones {
		if daysIn < milestone.day {
			break
		}

		var sent int64
		err := m.DB.Model(&models.RetentionAction{}).
			Where("user_id = ? AND action_type = ?", user.ID, milestone.actionType).
			Count(&sent).Error
		if err != nil {
			return err
		}
		if sent > 0 {
			continue
		}

		if err := m.sendMilestone(user, milestone.actionType); err != nil {
			return err
		}

		action := models.RetentionAction{
			UserID:        user.ID,
			ActionType:    milestone.actionType,
			TriggerReason: fmt.Sprintf("beta day %d milestone", milestone.day),
		}
		if err := m.DB.Create(&action).Error; err != nil {
			return err
		}
		m.Logger.Printf("📧 Beta day-%d email sent to user %d", milestone.day, user.ID)
	}
	return nil
}

func (m *Mailer) sendMilestone(user *models.User, actionType string) error {
	name := user.Email
	if user.Name != nil && *user.Name != "" {
		name = *user.Name
	}

	subject, heading, body := milestoneCopy(actionType)
	return m.Sender.Send(mailer.TransactionalData{
		Subject:  subject,
		To:       []string{user.Email},
		Template: "lifecycle",
		Data: map[string]interface{}{
			"Subject":  subject,
			"Heading":  heading,
			"Name":     name,
			"BodyHTML": template.HTML(body),
			"Year":     m.Now().Year(),
		},
	})
}

func milestoneCopy(actionType string) (subject, heading, body string) {
	switch actionType {
	case models.ActionBetaDay1:
		return "Welcome to the ColdReach beta",
			"You're in",
			"<p>Thanks for joining the beta. The fastest way to see value: create one campaign with a two-sentence product description and let the pipeline run overnight. Tomorrow you'll have researched prospects and drafts waiting for review.</p>"
	case models.ActionBetaDay3:
		return "How's it going so far?",
			"Quick check-in",
			"<p>You've had the pipeline for a few days now. If drafts aren't landing the way you'd like, reject one with a short note and the next draft will pick up your feedback. Reply to this email with anything confusing, we read every message.</p>"
	default:
		return "One week in, we'd love your take",
			"A week with ColdReach",
			"<p>You've been in the beta a week. Two minutes of honest feedback shapes what we build next: what almost made you stop using it, and what kept you coming back?</p>"
	}
}
