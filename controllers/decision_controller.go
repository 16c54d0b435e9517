package controller

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"coldreach/apperr"
	"coldreach/decision"
	"coldreach/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DecisionController struct {
	DB      *gorm.DB
	Service *decision.Service
	Logger  *log.Logger
}

func NewDecisionController(db *gorm.DB, service *decision.Service, logger *log.Logger) *DecisionController {
	return &DecisionController{DB: db, Service: service, Logger: logger}
}

// ListDecisions returns the queue, newest first, with optional
// status/category/gate filters
func (dc *DecisionController) ListDecisions(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := dc.DB.Model(&models.Decision{}).Order("created_at desc").Limit(100)
	if !user.IsAdmin {
		query = query.Where("user_id = ?", user.ID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if gate := c.Query("gate"); gate != "" {
		g, err := strconv.Atoi(gate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "gate must be an integer",
			})
		}
		query = query.Where("safety_gate = ?", g)
	}

	var decisions []models.Decision
	if err := query.Find(&decisions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load decisions",
		})
	}
	return c.JSON(fiber.Map{"decisions": decisions})
}

// GetDecision returns one decision with its gate log trail
func (dc *DecisionController) GetDecision(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var d models.Decision
	err := dc.DB.Preload("GateLogs", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at asc")
	}).First(&d, c.Params("id")).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Decision not found",
		})
	}
	if !user.IsAdmin && (d.UserID == nil || *d.UserID != user.ID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Not your decision",
		})
	}
	return c.JSON(d)
}

// ResolveDecision approves or rejects a pending/scheduled decision.
// Gate-4 approvals must carry the matching confirmation phrase.
func (dc *DecisionController) ResolveDecision(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid decision id",
		})
	}

	var input struct {
		Status             string          `json:"status"`
		Outcome            json.RawMessage `json:"outcome"`
		ConfirmationPhrase string          `json:"confirmation_phrase"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var outcome interface{}
	if len(input.Outcome) > 0 {
		outcome = input.Outcome
	}

	resolved, err := dc.Service.Resolve(uint(id), input.Status, outcome,
		fmt.Sprintf("user:%d", user.ID), input.ConfirmationPhrase)
	if err != nil {
		return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	dc.Logger.Printf("✅ Decision %d resolved %s by user %d", resolved.ID, resolved.Status, user.ID)
	return c.JSON(resolved)
}
