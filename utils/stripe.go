package utils

import (
	"time"

	"coldreach/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// InitStripe sets the global API key
func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// ConstructStripeEvent securely constructs and verifies a Stripe webhook event
func ConstructStripeEvent(c *fiber.Ctx) (stripe.Event, error) {
	payload := c.Body()

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Missing Stripe-Signature header")
	}

	// Tolerance covers clock drift between Stripe and this host
	event, err := webhook.ConstructEventWithTolerance(
		payload,
		signature,
		config.AppConfig.PaymentWebhookSecret,
		5*time.Minute,
	)
	if err != nil {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Invalid webhook signature")
	}
	return event, nil
}
