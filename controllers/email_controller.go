package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coldreach/apperr"
	"coldreach/models"
	"coldreach/pipeline"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type EmailController struct {
	DB     *gorm.DB
	Driver *pipeline.Driver
	Redis  *redis.Client
	Logger *log.Logger
}

func NewEmailController(db *gorm.DB, driver *pipeline.Driver, rdb *redis.Client, logger *log.Logger) *EmailController {
	return &EmailController{DB: db, Driver: driver, Redis: rdb, Logger: logger}
}

// ListPendingEmails returns the user's drafts awaiting review
func (ec *EmailController) ListPendingEmails(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var emails []models.GeneratedEmail
	err := ec.DB.
		Where("user_id = ? AND status = ?", user.ID, models.EmailPendingApproval).
		Order("created_at asc").
		Limit(100).
		Find(&emails).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load drafts",
		})
	}
	return c.JSON(fiber.Map{"emails": emails})
}

// ApproveEmail moves a draft to approved and advances the prospect.
// Safe to retry: repeated calls with the same Idempotency-Key replay the
// first response, and the state transition itself is conditional.
func (ec *EmailController) ApproveEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if replay, ok := ec.replayIdempotent(c, user.ID); ok {
		return replay
	}

	var email models.GeneratedEmail
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	err := ec.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GeneratedEmail{}).
			Where("id = ? AND status = ?", email.ID, models.EmailPendingApproval).
			Update("status", models.EmailApproved)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("draft is not pending approval")
		}

		res = tx.Model(&models.Prospect{}).
			Where("id = ? AND status = ?", email.ProspectID, models.ProspectEmailDrafted).
			Update("status", models.ProspectApproved)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("prospect is not awaiting approval")
		}
		return nil
	})
	if err != nil {
		return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ec.Logger.Printf("✅ Email %d approved by user %d", email.ID, user.ID)
	return ec.respondIdempotent(c, user.ID, fiber.Map{
		"id":     email.ID,
		"status": models.EmailApproved,
	})
}

// RejectEmail marks the draft rejected and returns the prospect to
// researched so the next pipeline tick can redraft
func (ec *EmailController) RejectEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var email models.GeneratedEmail
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	err := ec.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GeneratedEmail{}).
			Where("id = ? AND status = ?", email.ID, models.EmailPendingApproval).
			Updates(map[string]interface{}{
				"status":           models.EmailRejected,
				"rejection_reason": input.Reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("draft is not pending approval")
		}

		// Explicit regression: the only allowed backward move
		return tx.Model(&models.Prospect{}).
			Where("id = ? AND status = ?", email.ProspectID, models.ProspectEmailDrafted).
			Update("status", models.ProspectResearched).Error
	})
	if err != nil {
		return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ec.Logger.Printf("Email %d rejected by user %d: %s", email.ID, user.ID, input.Reason)
	return c.JSON(fiber.Map{"id": email.ID, "status": models.EmailRejected})
}

// RegenerateEmail replaces a draft using the reviewer's feedback
func (ec *EmailController) RegenerateEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Feedback string `json:"feedback"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var email models.GeneratedEmail
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	regenerated, err := ec.Driver.Regenerate(c.Context(), email.ID, input.Feedback)
	if err != nil {
		return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(regenerated)
}

// ListReplyDrafts returns AI responses to inbound replies awaiting review
func (ec *EmailController) ListReplyDrafts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var drafts []models.ReplyDraft
	err := ec.DB.
		Where("user_id = ? AND status = ?", user.ID, models.EmailPendingApproval).
		Order("created_at asc").
		Limit(100).
		Find(&drafts).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load reply drafts",
		})
	}
	return c.JSON(fiber.Map{"drafts": drafts})
}

// ReviewReplyDraft approves or rejects a reply draft
func (ec *EmailController) ReviewReplyDraft(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Status string `json:"status"` // approved, rejected
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if input.Status != "approved" && input.Status != "rejected" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status must be approved or rejected",
		})
	}

	res := ec.DB.Model(&models.ReplyDraft{}).
		Where("id = ? AND user_id = ? AND status = ?", c.Params("id"), user.ID, models.EmailPendingApproval).
		Update("status", input.Status)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update reply draft",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Reply draft is not pending review",
		})
	}
	return c.JSON(fiber.Map{"status": input.Status})
}

// replayIdempotent returns the cached response for a repeated
// Idempotency-Key, when Redis is available
func (ec *EmailController) replayIdempotent(c *fiber.Ctx, userID uint) (error, bool) {
	key := c.Get("Idempotency-Key")
	if key == "" || ec.Redis == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cached, err := ec.Redis.Get(ctx, ec.idemKey(userID, key)).Result()
	if err != nil {
		return nil, false
	}
	c.Set("Content-Type", "application/json")
	c.Set("Idempotent-Replay", "true")
	return c.SendString(cached), true
}

func (ec *EmailController) respondIdempotent(c *fiber.Ctx, userID uint, body fiber.Map) error {
	if key := c.Get("Idempotency-Key"); key != "" && ec.Redis != nil {
		if raw, err := json.Marshal(body); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ec.Redis.Set(ctx, ec.idemKey(userID, key), raw, 24*time.Hour)
		}
	}
	return c.JSON(body)
}

func (ec *EmailController) idemKey(userID uint, key string) string {
	return fmt.Sprintf("coldreach:idem:%d:%s", userID, key)
}
