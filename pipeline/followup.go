package pipeline

import (
	"context"
	"fmt"
	"time"

	"coldreach/llm"
	"coldreach/models"

	"gorm.io/gorm"
)

// Follow-up step offsets in days after the initial send
const (
	followUpSofterDay  = 3
	followUpBreakupDay = 7
)

// RunFollowUpGeneration is the nightly job: for every initial email sent
// more than three days ago with no sequence yet, it writes the sequence,
// its two step templates, and the pending send rows scheduled off the
// initial send time. The day-3 row is already due when it is written, so
// it goes out on the next queue tick.
func (d *Driver) RunFollowUpGeneration(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(followUpSofterDay) * 24 * time.Hour)

	var emails []models.GeneratedEmail
	err := d.DB.WithContext(ctx).Model(&models.GeneratedEmail{}).
		Joins("JOIN send_queue_rows sq ON sq.generated_email_id = generated_emails.id AND sq.is_followup = ? AND sq.status = ?", false, models.QueueSent).
		Where("generated_emails.status = ? AND sq.sent_at <= ?", models.EmailSent, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM email_sequences es WHERE es.generated_email_id = generated_emails.id AND es.deleted_at IS NULL)").
		Limit(50).
		Find(&emails).Error
	if err != nil {
		return err
	}

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.generateSequence(ctx, &emails[i]); err != nil {
			logEntityError("follow_up", "generated_email", emails[i].ID, err)
		}
	}
	return nil
}

func (d *Driver) generateSequence(ctx context.Context, email *models.GeneratedEmail) error {
	// A replied prospect gets no follow-ups
	var prospect models.Prospect
	if err := d.DB.First(&prospect, email.ProspectID).Error; err != nil {
		return err
	}
	if prospect.Status == models.ProspectReplied {
		return nil
	}

	// The sequence anchors on the initial send time
	var initial models.SendQueueRow
	err := d.DB.
		Where("generated_email_id = ? AND is_followup = ? AND status = ?",
			email.ID, false, models.QueueSent).
		First(&initial).Error
	if err != nil {
		return err
	}
	sentAt := initial.ScheduledFor
	if initial.SentAt != nil {
		sentAt = *initial.SentAt
	}

	prompt := fmt.Sprintf(`Write two follow-up emails for this cold outreach thread that got no reply.

Original subject: %s
Original body:
%s

Step 1 (day %d): softer angle, add one new piece of value, no guilt.
Step 2 (day %d): direct break-up email, short, permission to close the loop.
Each body at most 80 words. Respond as JSON:
{"steps": [{"subject": "", "body": ""}, {"subject": "", "body": ""}]}`,
		email.Subject, email.Body, followUpSofterDay, followUpBreakupDay)

	var payload followUpPayload
	if _, err := d.LLM.CallJSON(ctx, email.UserID, llm.TaskFollowUpSteps, prompt, &payload); err != nil {
		return err
	}
	if err := payload.validate(); err != nil {
		return err
	}

	angles := []string{"softer", "breakup"}
	offsets := []int{followUpSofterDay, followUpBreakupDay}

	return d.DB.Transaction(func(tx *gorm.DB) error {
		seq := models.EmailSequence{
			CampaignID:       email.CampaignID,
			ProspectID:       email.ProspectID,
			GeneratedEmailID: email.ID,
		}
		if err := tx.Create(&seq).Error; err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			step := models.SequenceStep{
				SequenceID:       seq.ID,
				StepNumber:       i + 1,
				DaysAfterInitial: offsets[i],
				Angle:            angles[i],
				Subject:          payload.Steps[i].Subject,
				Body:             payload.Steps[i].Body,
				Status:           "pending",
			}
			if err := tx.Create(&step).Error; err != nil {
				return err
			}

			row := models.SendQueueRow{
				CampaignID:       email.CampaignID,
				ProspectID:       email.ProspectID,
				GeneratedEmailID: email.ID,
				SequenceStepID:   &step.ID,
				RecipientEmail:   initial.RecipientEmail,
				RecipientName:    initial.RecipientName,
				Subject:          step.Subject,
				Body:             step.Body,
				ScheduledFor:     sentAt.Add(time.Duration(offsets[i]) * 24 * time.Hour),
				IsFollowup:       true,
				Status:           models.QueuePending,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
