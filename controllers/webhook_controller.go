package controller

import (
	"encoding/json"
	"log"
	"time"

	"coldreach/models"
	"coldreach/retention"
	"coldreach/sendqueue"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"coldreach/utils"
)

type WebhookController struct {
	DB      *gorm.DB
	Dunning *retention.Dunning
	Queue   *sendqueue.Processor
	Logger  *log.Logger
}

func NewWebhookController(db *gorm.DB, dunning *retention.Dunning, queue *sendqueue.Processor, logger *log.Logger) *WebhookController {
	return &WebhookController{DB: db, Dunning: dunning, Queue: queue, Logger: logger}
}

// HandleInboundMail receives provider notifications for replies to cold
// emails. Idempotent on the provider message id; re-deliveries are
// acknowledged without side effects.
func (wc *WebhookController) HandleInboundMail(c *fiber.Ctx) error {
	var input struct {
		MessageID  string `json:"message_id"`
		FromEmail  string `json:"from_email"`
		ToEmail    string `json:"to_email"`
		Subject    string `json:"subject"`
		Body       string `json:"body"`
		ReceivedAt string `json:"received_at"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if input.MessageID == "" || input.FromEmail == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message_id and from_email are required",
		})
	}

	claimed, err := wc.claimEvent("inbound_mail", input.MessageID, "reply", string(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record event",
		})
	}
	if !claimed {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	// Match the sender address to the most recently contacted prospect
	var prospect models.Prospect
	err = wc.DB.
		Where("email = ? AND status IN ?", input.FromEmail,
			[]string{models.ProspectSent, models.ProspectReplied}).
		Order("updated_at desc").
		First(&prospect).Error
	if err != nil {
		// Unknown sender: the event stays recorded, nothing to update
		wc.Logger.Printf("⚠️ Inbound mail from unknown address %s", input.FromEmail)
		return c.JSON(fiber.Map{"status": "unmatched"})
	}

	receivedAt := time.Now()
	if input.ReceivedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, input.ReceivedAt); err == nil {
			receivedAt = parsed
		}
	}

	reply := models.ProspectReply{
		ProspectID:        prospect.ID,
		CampaignID:        prospect.CampaignID,
		UserID:            prospect.UserID,
		FromEmail:         input.FromEmail,
		Subject:           input.Subject,
		Body:              input.Body,
		ReceivedAt:        receivedAt,
		ProviderMessageID: input.MessageID,
	}

	err = wc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&reply).Error; err != nil {
			return err
		}
		// Forward-only skip to replied is always allowed
		return tx.Model(&models.Prospect{}).
			Where("id = ? AND status <> ?", prospect.ID, models.ProspectReplied).
			Update("status", models.ProspectReplied).Error
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"prospect_id": prospect.ID,
			"error":       err.Error(),
		}).Error("failed to record inbound reply")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record reply",
		})
	}

	// Stop pending follow-ups now instead of waiting for the next tick
	if err := wc.Queue.HaltProspect(prospect.ID); err != nil {
		wc.Logger.Printf("⚠️ Failed to halt follow-ups for prospect %d: %v", prospect.ID, err)
	}

	wc.Logger.Printf("📧 Reply recorded for prospect %d (campaign %d)", prospect.ID, prospect.CampaignID)
	return c.JSON(fiber.Map{"status": "recorded", "reply_id": reply.ID})
}

// HandlePaymentWebhook processes Stripe events. Signature is verified,
// events are deduplicated by Stripe event id.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	claimed, err := wc.claimEvent("stripe", event.ID, string(event.Type), string(event.Data.Raw))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record event",
		})
	}
	if !claimed {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return wc.badEvent(c, err)
		}
		err = wc.handleCheckoutCompleted(&session)

	case "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return wc.badEvent(c, err)
		}
		err = wc.setStatusByCustomer(invoice.Customer.ID, "active")

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return wc.badEvent(c, err)
		}
		err = wc.handlePaymentFailed(invoice.Customer.ID)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return wc.badEvent(c, err)
		}
		err = wc.handleSubscriptionUpdated(&sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return wc.badEvent(c, err)
		}
		err = wc.handleSubscriptionDeleted(&sub)

	default:
		wc.Logger.Printf("Ignoring stripe event %s (%s)", event.ID, event.Type)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if err != nil {
		sentry.CaptureException(err)
		logrus.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"error":      err.Error(),
		}).Error("stripe webhook handling failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Webhook handling failed",
		})
	}

	now := time.Now()
	wc.DB.Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", "stripe", event.ID).
		Update("processed_at", now)

	return c.JSON(fiber.Map{"status": "processed"})
}

func (wc *WebhookController) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	user, err := wc.userByCustomer(session.Customer.ID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"subscription_status": "active",
	}
	if session.Subscription != nil {
		updates["stripe_subscription_id"] = session.Subscription.ID
	}
	if planName := session.Metadata["plan"]; planName != "" {
		var plan models.Plan
		if err := wc.DB.Where("name = ?", planName).First(&plan).Error; err == nil {
			updates["plan_id"] = plan.ID
			updates["plan_name"] = plan.Name
		}
	}
	return wc.DB.Model(user).Updates(updates).Error
}

func (wc *WebhookController) handlePaymentFailed(customerID string) error {
	user, err := wc.userByCustomer(customerID)
	if err != nil {
		return err
	}
	return wc.Dunning.HandlePaymentFailed(user.ID)
}

func (wc *WebhookController) handleSubscriptionUpdated(sub *stripe.Subscription) error {
	user, err := wc.userByCustomer(sub.Customer.ID)
	if err != nil {
		return err
	}

	status := "active"
	switch sub.Status {
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		status = "past_due"
	case stripe.SubscriptionStatusCanceled:
		status = "canceled"
	}
	return wc.DB.Model(user).Update("subscription_status", status).Error
}

func (wc *WebhookController) handleSubscriptionDeleted(sub *stripe.Subscription) error {
	user, err := wc.userByCustomer(sub.Customer.ID)
	if err != nil {
		return err
	}

	var freePlan models.Plan
	if err := wc.DB.Where("name = ?", "free").First(&freePlan).Error; err != nil {
		return err
	}
	return wc.DB.Model(user).Updates(map[string]interface{}{
		"subscription_status": "canceled",
		"plan_id":             freePlan.ID,
		"plan_name":           "free",
	}).Error
}

func (wc *WebhookController) setStatusByCustomer(customerID, status string) error {
	user, err := wc.userByCustomer(customerID)
	if err != nil {
		return err
	}
	return wc.DB.Model(user).Update("subscription_status", status).Error
}

func (wc *WebhookController) userByCustomer(customerID string) (*models.User, error) {
	var user models.User
	err := wc.DB.Where("stripe_customer_id = ?", customerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// claimEvent inserts the idempotency record. A unique violation means a
// re-delivery; the caller acknowledges without reprocessing.
func (wc *WebhookController) claimEvent(provider, eventID, eventType, payload string) (bool, error) {
	event := models.WebhookEvent{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
	}
	err := wc.DB.Create(&event).Error
	if err != nil {
		var existing int64
		wc.DB.Model(&models.WebhookEvent{}).
			Where("provider = ? AND event_id = ?", provider, eventID).
			Count(&existing)
		if existing > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (wc *WebhookController) badEvent(c *fiber.Ctx, err error) error {
	wc.Logger.Printf("⚠️ Malformed stripe event payload: %v", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Malformed event payload",
	})
}
