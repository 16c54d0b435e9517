package controller

import (
	"log"

	"coldreach/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	validate *validator.Validate
}

func NewCampaignController(db *gorm.DB, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:       db,
		Logger:   logger,
		validate: validator.New(),
	}
}

type createCampaignInput struct {
	Name               string `json:"name" validate:"required,min=2,max=120"`
	ProductDescription string `json:"product_description" validate:"required,min=10"`
	ICPDescription     string `json:"icp_description" validate:"max=4000"`
}

// CreateCampaign registers a campaign; discovery starts on the next
// pipeline tick
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := cc.validate.Struct(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	campaign := models.Campaign{
		UserID:             user.ID,
		Name:               input.Name,
		ProductDescription: input.ProductDescription,
		ICPDescription:     input.ICPDescription,
		Status:             "active",
		DiscoveryStatus:    "pending",
	}
	if err := cc.DB.Create(&campaign).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	cc.Logger.Printf("✅ Campaign %d created by user %d", campaign.ID, user.ID)
	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// ListCampaigns returns the user's campaigns with their sending contexts
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaigns []models.Campaign
	err := cc.DB.Preload("SendingContext").
		Where("user_id = ?", user.ID).
		Order("created_at desc").
		Find(&campaigns).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load campaigns",
		})
	}
	return c.JSON(fiber.Map{"campaigns": campaigns})
}

// GetCampaign returns one campaign with pipeline progress counts
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	err := cc.DB.Preload("SendingContext").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	type statusCount struct {
		Status string
		N      int
	}
	var counts []statusCount
	cc.DB.Model(&models.Prospect{}).
		Select("status, count(*) as n").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Scan(&counts)

	progress := fiber.Map{}
	for _, sc := range counts {
		progress[sc.Status] = sc.N
	}

	return c.JSON(fiber.Map{
		"campaign": campaign,
		"progress": progress,
	})
}

// ArchiveCampaign takes a campaign out of every pipeline stage
func (cc *CampaignController) ArchiveCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	res := cc.DB.Model(&models.Campaign{}).
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Update("is_archived", true)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to archive campaign",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	return c.JSON(fiber.Map{"status": "archived"})
}

// SetSendingStatus pauses or resumes the campaign's send queue
func (cc *CampaignController) SetSendingStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Status string `json:"status"` // active, paused, completed
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	switch input.Status {
	case "active", "paused", "completed":
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status must be active, paused or completed",
		})
	}

	res := cc.DB.Model(&models.CampaignSendingContext{}).
		Where("campaign_id = ? AND user_id = ?", c.Params("id"), user.ID).
		Update("status", input.Status)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sending status",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No sending context for this campaign yet",
		})
	}
	return c.JSON(fiber.Map{"status": input.Status})
}
