package pipeline

import (
	"context"
	"fmt"
	"time"

	"coldreach/models"

	"gorm.io/gorm"
)

// RunEnqueueApproved turns approved drafts into pending send-queue rows,
// lazily creating the campaign sending context on first enqueue
func (d *Driver) RunEnqueueApproved(ctx context.Context) error {
	var emails []models.GeneratedEmail
	err := d.DB.WithContext(ctx).
		Joins("JOIN users ON users.id = generated_emails.user_id").
		Where("generated_emails.status = ? AND users.sender_email <> ''", models.EmailApproved).
		Where("NOT EXISTS (SELECT 1 FROM send_queue_rows sq WHERE sq.generated_email_id = generated_emails.id AND sq.deleted_at IS NULL)").
		Order("generated_emails.updated_at asc").
		Limit(d.Limits.EnqueueEmails).
		Find(&emails).Error
	if err != nil {
		return err
	}

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.enqueueEmail(&emails[i]); err != nil {
			logEntityError("enqueue_approved", "generated_email", emails[i].ID, err)
		}
	}
	return nil
}

func (d *Driver) enqueueEmail(email *models.GeneratedEmail) error {
	if _, err := d.EnsureSendingContext(email.CampaignID); err != nil {
		return err
	}

	return d.DB.Transaction(func(tx *gorm.DB) error {
		// At most one live initial row per (campaign, prospect): a second
		// pending or retryable row would double-send
		var live int64
		err := tx.Model(&models.SendQueueRow{}).
			Where("campaign_id = ? AND prospect_id = ? AND is_followup = ? AND status IN ?",
				email.CampaignID, email.ProspectID, false,
				[]string{models.QueuePending, models.QueueFailed}).
			Count(&live).Error
		if err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("prospect %d already has a live initial send row", email.ProspectID)
		}

		row := models.SendQueueRow{
			CampaignID:       email.CampaignID,
			ProspectID:       email.ProspectID,
			GeneratedEmailID: email.ID,
			RecipientEmail:   email.RecipientEmail,
			RecipientName:    email.RecipientName,
			Subject:          email.Subject,
			Body:             email.Body,
			ScheduledFor:     time.Now(),
			IsFollowup:       false,
			Status:           models.QueuePending,
		}
		return tx.Create(&row).Error
	})
}

// EnsureSendingContext returns the campaign's sending context, creating
// it from the owner's sender identity when absent
func (d *Driver) EnsureSendingContext(campaignID uint) (*models.CampaignSendingContext, error) {
	var sc models.CampaignSendingContext
	err := d.DB.Where("campaign_id = ?", campaignID).First(&sc).Error
	if err == nil {
		return &sc, nil
	}
	if err := ignoreNotFound(err); err != nil {
		return nil, err
	}

	var campaign models.Campaign
	if err := d.DB.First(&campaign, campaignID).Error; err != nil {
		return nil, err
	}
	var user models.User
	if err := d.DB.Preload("Plan").First(&user, campaign.UserID).Error; err != nil {
		return nil, err
	}

	dailyLimit := 25
	if user.Plan != nil {
		dailyLimit = user.Plan.DailySendLimit
	}

	sc = models.CampaignSendingContext{
		CampaignID:     campaignID,
		UserID:         user.ID,
		WindowStart:    "09:00",
		WindowEnd:      "17:00",
		Timezone:       user.Timezone,
		DailySendLimit: dailyLimit,
		SenderEmail:    user.SenderEmail,
		SenderName:     user.SenderName,
		ReplyTo:        user.ReplyTo,
		StopOnReply:    true,
		Status:         "active",
	}
	if err := d.DB.Create(&sc).Error; err != nil {
		// Concurrent lazy creation: the unique index on campaign_id wins
		var existing models.CampaignSendingContext
		if err2 := d.DB.Where("campaign_id = ?", campaignID).First(&existing).Error; err2 == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &sc, nil
}
