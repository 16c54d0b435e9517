package pipeline

import (
	"context"
	"fmt"

	"coldreach/apperr"
	"coldreach/llm"
	"coldreach/models"
)

// RunResearch enriches discovered prospects, highest fit score first
func (d *Driver) RunResearch(ctx context.Context) error {
	var campaignIDs []uint
	err := d.DB.WithContext(ctx).Model(&models.Prospect{}).
		Distinct("prospects.campaign_id").
		Joins("JOIN campaigns ON campaigns.id = prospects.campaign_id").
		Where("prospects.status = ? AND campaigns.discovery_status = ? AND campaigns.is_archived = ?",
			models.ProspectDiscovered, "completed", false).
		Limit(d.Limits.ResearchCampaigns).
		Pluck("prospects.campaign_id", &campaignIDs).Error
	if err != nil {
		return err
	}

	for _, campaignID := range campaignIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var campaign models.Campaign
		if err := d.DB.First(&campaign, campaignID).Error; err != nil {
			logEntityError("research", "campaign", campaignID, err)
			continue
		}

		var prospects []models.Prospect
		err := d.DB.Where("campaign_id = ? AND status = ?", campaignID, models.ProspectDiscovered).
			Order("fit_score desc").
			Limit(d.Limits.ResearchPerCampaign).
			Find(&prospects).Error
		if err != nil {
			logEntityError("research", "campaign", campaignID, err)
			continue
		}

		for i := range prospects {
			if err := d.researchProspect(ctx, &campaign, &prospects[i]); err != nil {
				if isFatalForCampaign(err) {
					logEntityError("research", "campaign", campaignID, err)
					break
				}
				logEntityError("research", "prospect", prospects[i].ID, err)
			}
		}
	}
	return nil
}

func (d *Driver) researchProspect(ctx context.Context, campaign *models.Campaign, prospect *models.Prospect) error {
	prompt := fmt.Sprintf(`Research this prospect for a cold outreach campaign.

Product: %s
Prospect: %s %s, %s at %s (%s), %s, %s

Summarize what matters about their company, recommend an email angle, and note
decision-maker dynamics. Keep the summary under 100 words. Respond as JSON:
{"summary": "", "recommended_angle": "", "decision_maker_hints": "", "confidence": 0.0-1.0}`,
		campaign.ProductDescription,
		prospect.FirstName, prospect.LastName, prospect.Title, prospect.Company,
		prospect.Industry, prospect.Website, prospect.Location)

	var payload researchPayload
	if _, err := d.LLM.CallJSON(ctx, prospect.UserID, llm.TaskResearchProspect, prompt, &payload); err != nil {
		return err
	}
	if err := payload.validate(); err != nil {
		return err
	}

	// One transactional unit: enrichment write + state advance. A failure
	// leaves the prospect in discovered so the next tick retries.
	res := d.DB.Model(&models.Prospect{}).
		Where("id = ? AND status = ?", prospect.ID, models.ProspectDiscovered).
		Updates(map[string]interface{}{
			"research_summary":     payload.Summary,
			"recommended_angle":    payload.RecommendedAngle,
			"decision_maker_hints": payload.DecisionMakerHints,
			"status":               models.ProspectResearched,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.StateConflict(fmt.Sprintf("prospect %d left discovered state mid-research", prospect.ID))
	}
	return nil
}
