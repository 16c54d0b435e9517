package pipeline

import (
	"context"
	"fmt"

	"coldreach/apperr"
	"coldreach/llm"
	"coldreach/models"

	"gorm.io/gorm"
)

// RunDraftEmail writes a pending-approval email for each researched
// prospect without a live draft, highest fit score first
func (d *Driver) RunDraftEmail(ctx context.Context) error {
	var campaignIDs []uint
	err := d.DB.WithContext(ctx).Model(&models.Prospect{}).
		Distinct("campaign_id").
		Where("status = ?", models.ProspectResearched).
		Limit(d.Limits.DraftCampaigns).
		Pluck("campaign_id", &campaignIDs).Error
	if err != nil {
		return err
	}

	for _, campaignID := range campaignIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var campaign models.Campaign
		if err := d.DB.First(&campaign, campaignID).Error; err != nil {
			logEntityError("draft_email", "campaign", campaignID, err)
			continue
		}

		var user models.User
		if err := d.DB.First(&user, campaign.UserID).Error; err != nil {
			logEntityError("draft_email", "user", campaign.UserID, err)
			continue
		}

		// Researched prospects with no non-rejected draft
		var prospects []models.Prospect
		err := d.DB.
			Where("campaign_id = ? AND status = ?", campaignID, models.ProspectResearched).
			Where("NOT EXISTS (SELECT 1 FROM generated_emails ge WHERE ge.prospect_id = prospects.id AND ge.status <> ? AND ge.deleted_at IS NULL)", models.EmailRejected).
			Order("fit_score desc").
			Limit(d.Limits.DraftPerCampaign).
			Find(&prospects).Error
		if err != nil {
			logEntityError("draft_email", "campaign", campaignID, err)
			continue
		}

		for i := range prospects {
			if err := d.draftForProspect(ctx, &campaign, &user, &prospects[i]); err != nil {
				if isFatalForCampaign(err) {
					logEntityError("draft_email", "campaign", campaignID, err)
					break
				}
				logEntityError("draft_email", "prospect", prospects[i].ID, err)
			}
		}
	}
	return nil
}

func (d *Driver) draftForProspect(ctx context.Context, campaign *models.Campaign, user *models.User, prospect *models.Prospect) error {
	payload, model, err := d.generateDraft(ctx, campaign, user, prospect, "")
	if err != nil {
		return err
	}

	recipientName := payload.RecipientName
	if recipientName == "" {
		recipientName = fmt.Sprintf("%s %s", prospect.FirstName, prospect.LastName)
	}

	// Insert + state advance as one transactional unit (invariant: a
	// non-rejected draft exists iff the prospect reached email_drafted)
	return d.DB.Transaction(func(tx *gorm.DB) error {
		email := models.GeneratedEmail{
			ProspectID:           prospect.ID,
			CampaignID:           campaign.ID,
			UserID:               user.ID,
			Subject:              payload.Subject,
			Body:                 payload.Body,
			PersonalizationNotes: payload.PersonalizationNotes,
			RecipientEmail:       prospect.Email,
			RecipientName:        recipientName,
			Status:               models.EmailPendingApproval,
			ModelName:            model,
		}
		if err := tx.Create(&email).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Prospect{}).
			Where("id = ? AND status = ?", prospect.ID, models.ProspectResearched).
			Update("status", models.ProspectEmailDrafted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict(fmt.Sprintf("prospect %d left researched state mid-draft", prospect.ID))
		}
		return nil
	})
}

// Regenerate replaces a rejected draft in place with a fresh one and
// re-binds the prospect to email_drafted. Called from the approval
// endpoint with the reviewer's feedback.
func (d *Driver) Regenerate(ctx context.Context, emailID uint, feedback string) (*models.GeneratedEmail, error) {
	var email models.GeneratedEmail
	if err := d.DB.First(&email, emailID).Error; err != nil {
		return nil, apperr.NotFound("generated email")
	}

	var prospect models.Prospect
	if err := d.DB.First(&prospect, email.ProspectID).Error; err != nil {
		return nil, apperr.NotFound("prospect")
	}
	var campaign models.Campaign
	if err := d.DB.First(&campaign, email.CampaignID).Error; err != nil {
		return nil, apperr.NotFound("campaign")
	}
	var user models.User
	if err := d.DB.First(&user, email.UserID).Error; err != nil {
		return nil, apperr.NotFound("user")
	}

	payload, model, err := d.generateDraft(ctx, &campaign, &user, &prospect, feedback)
	if err != nil {
		return nil, err
	}

	err = d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&email).Updates(map[string]interface{}{
			"subject":               payload.Subject,
			"body":                  payload.Body,
			"personalization_notes": payload.PersonalizationNotes,
			"status":                models.EmailPendingApproval,
			"rejection_reason":      "",
			"model_name":            model,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Prospect{}).
			Where("id = ?", prospect.ID).
			Update("status", models.ProspectEmailDrafted).Error
	})
	if err != nil {
		return nil, err
	}

	if err := d.DB.First(&email, emailID).Error; err != nil {
		return nil, err
	}
	return &email, nil
}

func (d *Driver) generateDraft(ctx context.Context, campaign *models.Campaign, user *models.User, prospect *models.Prospect, feedback string) (*emailDraftPayload, string, error) {
	senderName := user.SenderName
	if senderName == "" && user.Name != nil {
		senderName = *user.Name
	}

	prompt := fmt.Sprintf(`Draft a cold outreach email.

Product: %s
Sender: %s <%s>
Prospect: %s %s, %s at %s
Research summary: %s
Recommended angle: %s

Rules: subject at most 60 characters, body at most 120 words, one concrete ask,
no placeholder brackets. Respond as JSON:
{"subject": "", "body": "", "personalization_notes": "", "recipient_name": ""}`,
		campaign.ProductDescription,
		senderName, user.SenderEmail,
		prospect.FirstName, prospect.LastName, prospect.Title, prospect.Company,
		prospect.ResearchSummary, prospect.RecommendedAngle)

	if feedback != "" {
		prompt += fmt.Sprintf("\n\nA previous draft was rejected with this feedback, address it: %s", feedback)
	}

	var payload emailDraftPayload
	res, err := d.LLM.CallJSON(ctx, user.ID, llm.TaskDraftEmail, prompt, &payload)
	if err != nil {
		return nil, "", err
	}
	if err := payload.validate(); err != nil {
		return nil, "", err
	}
	return &payload, res.Model, nil
}
