package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"coldreach/apperr"
	"coldreach/llm"
	"coldreach/models"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"
)

// RunDiscover drives campaigns with pending discovery through prospect
// generation. Budget exhaustion is fatal for the campaign, not retried
// per prospect.
func (d *Driver) RunDiscover(ctx context.Context) error {
	var campaigns []models.Campaign
	err := d.DB.WithContext(ctx).
		Where("discovery_status = ? AND is_archived = ? AND status = ?", "pending", false, "active").
		Order("created_at asc").
		Limit(d.Limits.DiscoverCampaigns).
		Find(&campaigns).Error
	if err != nil {
		return err
	}

	for i := range campaigns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.discoverCampaign(ctx, &campaigns[i]); err != nil {
			logEntityError("discover", "campaign", campaigns[i].ID, err)
		}
	}
	return nil
}

func (d *Driver) discoverCampaign(ctx context.Context, campaign *models.Campaign) error {
	budget, err := d.LLM.CheckBudget(campaign.UserID)
	if err != nil {
		return err
	}
	if !budget.Allowed {
		return apperr.QuotaExceeded(fmt.Sprintf("user %d AI budget exhausted", campaign.UserID))
	}

	remaining, err := d.monthlyProspectHeadroom(campaign.UserID)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		// Fail closed: no discovery past the plan cap
		return apperr.QuotaExceeded(fmt.Sprintf("user %d monthly prospect limit reached", campaign.UserID))
	}

	// Claim the campaign so a slow discovery is not re-selected next tick
	res := d.DB.Model(&models.Campaign{}).
		Where("id = ? AND discovery_status = ?", campaign.ID, "pending").
		Update("discovery_status", "in_progress")
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // another tick got here first
	}

	if campaign.ICPDerived == "" {
		derived, err := d.deriveICP(ctx, campaign)
		if err != nil {
			// Roll the claim back so the next tick retries
			d.DB.Model(campaign).Update("discovery_status", "pending")
			return err
		}
		campaign.ICPDerived = derived
		if err := d.DB.Model(campaign).Update("icp_derived", derived).Error; err != nil {
			return err
		}
	}

	want := d.Limits.ProspectsPerDiscover
	if want > remaining {
		want = remaining
	}

	prompt := fmt.Sprintf(`Generate up to %d realistic prospect profiles matching this ideal customer profile.

Product: %s
ICP: %s
Derived targeting: %s

Respond as JSON: {"prospects": [{"email", "first_name", "last_name", "company", "title", "website", "industry", "location", "fit_score" (0-100)}]}`,
		want, campaign.ProductDescription, campaign.ICPDescription, campaign.ICPDerived)

	var payload discoveryPayload
	if _, err := d.LLM.CallJSON(ctx, campaign.UserID, llm.TaskDiscoverProspects, prompt, &payload); err != nil {
		d.DB.Model(campaign).Update("discovery_status", "pending")
		return err
	}
	if err := payload.validate(); err != nil {
		d.DB.Model(campaign).Update("discovery_status", "pending")
		return err
	}

	created := 0
	for _, profile := range payload.Prospects {
		if created >= want {
			break
		}
		email := normalizeEmail(profile.Email)
		if err := checkmail.ValidateFormat(email); err != nil {
			continue // silently skip malformed addresses
		}

		// Duplicate (campaign, email) pairs are silently skipped
		var count int64
		if err := d.DB.Model(&models.Prospect{}).
			Where("campaign_id = ? AND email = ?", campaign.ID, email).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		prospect := models.Prospect{
			CampaignID: campaign.ID,
			UserID:     campaign.UserID,
			Email:      email,
			FirstName:  profile.FirstName,
			LastName:   profile.LastName,
			Company:    profile.Company,
			Title:      profile.Title,
			Website:    profile.Website,
			Industry:   profile.Industry,
			Location:   profile.Location,
			FitScore:   clampScore(profile.FitScore),
			Status:     models.ProspectDiscovered,
		}
		if err := d.DB.Create(&prospect).Error; err != nil {
			logEntityError("discover", "prospect", 0, err)
			continue
		}
		created++
	}

	d.Logger.Printf("Discovery for campaign %d produced %d prospects", campaign.ID, created)
	return d.DB.Model(campaign).Update("discovery_status", "completed").Error
}

func (d *Driver) deriveICP(ctx context.Context, campaign *models.Campaign) (string, error) {
	prompt := fmt.Sprintf(`Derive a structured ideal customer profile for this product.

Product: %s
ICP description: %s

Respond as JSON: {"industries": [], "company_sizes": [], "titles": [], "regions": [], "summary": ""}`,
		campaign.ProductDescription, campaign.ICPDescription)

	var payload icpDerivation
	if _, err := d.LLM.CallJSON(ctx, campaign.UserID, llm.TaskDeriveICP, prompt, &payload); err != nil {
		return "", err
	}
	if err := payload.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// monthlyProspectHeadroom returns how many prospects the user may still
// discover this month under their plan
func (d *Driver) monthlyProspectHeadroom(userID uint) (int, error) {
	var user models.User
	if err := d.DB.Preload("Plan").First(&user, userID).Error; err != nil {
		return 0, apperr.NotFound("user")
	}

	limit := 25 // free-tier default
	if user.Plan != nil {
		limit = user.Plan.MonthlyProspectLimit
	}

	monthStart := time.Now().UTC().Truncate(24 * time.Hour)
	monthStart = time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, time.UTC)

	var used int64
	err := d.DB.Model(&models.Prospect{}).
		Where("user_id = ? AND created_at >= ?", userID, monthStart).
		Count(&used).Error
	if err != nil {
		return 0, err
	}
	return limit - int(used), nil
}

// MonthlyProspectUsage reports used/limit for a user, shared with the
// retention engine's expansion-prompt trigger
func MonthlyProspectUsage(db *gorm.DB, userID uint) (used int, limit int, err error) {
	d := Driver{DB: db}
	headroom, err := d.monthlyProspectHeadroom(userID)
	if err != nil {
		return 0, 0, err
	}
	var user models.User
	if err := db.Preload("Plan").First(&user, userID).Error; err != nil {
		return 0, 0, err
	}
	limit = 25
	if user.Plan != nil {
		limit = user.Plan.MonthlyProspectLimit
	}
	return limit - headroom, limit, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
