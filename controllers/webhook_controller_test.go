package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"coldreach/models"
	"coldreach/sendqueue"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:controller_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Plan{},
		&models.Campaign{}, &models.CampaignSendingContext{}, &models.Prospect{},
		&models.GeneratedEmail{}, &models.SendQueueRow{},
		&models.ProspectReply{}, &models.WebhookEvent{},
	))
	return db
}

func newWebhookApp(db *gorm.DB) (*fiber.App, *WebhookController) {
	quiet := log.New(io.Discard, "", 0)
	queue := sendqueue.NewProcessor(db, nil, quiet)
	wc := NewWebhookController(db, nil, queue, quiet)

	app := fiber.New()
	app.Post("/webhooks/inbound-mail", wc.HandleInboundMail)
	return app, wc
}

func seedContactedProspect(t *testing.T, db *gorm.DB) *models.Prospect {
	t.Helper()
	user := models.User{Email: "owner@example.com", IsActive: true, SenderEmail: "owner@acme.io"}
	require.NoError(t, db.Create(&user).Error)
	campaign := models.Campaign{UserID: user.ID, Name: "c", Status: "active"}
	require.NoError(t, db.Create(&campaign).Error)
	prospect := models.Prospect{
		CampaignID: campaign.ID, UserID: user.ID,
		Email: "alice@example.com", Status: models.ProspectSent,
	}
	require.NoError(t, db.Create(&prospect).Error)
	return &prospect
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)

	body := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &body))
	}
	return resp, body
}

func TestInboundMailRecordsReplyAndHaltsFollowUps(t *testing.T) {
	db := newTestDB(t)
	app, _ := newWebhookApp(db)
	prospect := seedContactedProspect(t, db)

	// A queued follow-up that must not go out once the prospect replies
	stepID := uint(1)
	require.NoError(t, db.Create(&models.SendQueueRow{
		CampaignID: prospect.CampaignID, ProspectID: prospect.ID, GeneratedEmailID: 1,
		SequenceStepID: &stepID, RecipientEmail: prospect.Email,
		Subject: "follow-up", Body: "b", ScheduledFor: time.Now().Add(48 * time.Hour),
		IsFollowup: true, Status: models.QueuePending,
	}).Error)

	resp, body := postJSON(t, app, "/webhooks/inbound-mail", map[string]string{
		"message_id":  "msg-001",
		"from_email":  "alice@example.com",
		"subject":     "Re: Quick question",
		"body":        "Sounds interesting, tell me more",
		"received_at": time.Now().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recorded", body["status"])

	var reply models.ProspectReply
	require.NoError(t, db.Where("provider_message_id = ?", "msg-001").First(&reply).Error)
	assert.Equal(t, prospect.ID, reply.ProspectID)

	var after models.Prospect
	require.NoError(t, db.First(&after, prospect.ID).Error)
	assert.Equal(t, models.ProspectReplied, after.Status)

	var row models.SendQueueRow
	require.NoError(t, db.Where("prospect_id = ? AND is_followup = ?", prospect.ID, true).First(&row).Error)
	assert.Equal(t, models.QueueHalted, row.Status)
}

func TestInboundMailDuplicateDeliveryIsAcknowledged(t *testing.T) {
	db := newTestDB(t)
	app, _ := newWebhookApp(db)
	seedContactedProspect(t, db)

	payload := map[string]string{
		"message_id": "msg-dup",
		"from_email": "alice@example.com",
		"subject":    "Re: Quick question",
		"body":       "first delivery",
	}

	resp, _ := postJSON(t, app, "/webhooks/inbound-mail", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, app, "/webhooks/inbound-mail", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])

	var count int64
	require.NoError(t, db.Model(&models.ProspectReply{}).
		Where("provider_message_id = ?", "msg-dup").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInboundMailUnknownSenderIsRecordedNotMatched(t *testing.T) {
	db := newTestDB(t)
	app, _ := newWebhookApp(db)
	seedContactedProspect(t, db)

	resp, body := postJSON(t, app, "/webhooks/inbound-mail", map[string]string{
		"message_id": "msg-stranger",
		"from_email": "stranger@nowhere.io",
		"body":       "who is this",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unmatched", body["status"])

	var replies int64
	require.NoError(t, db.Model(&models.ProspectReply{}).Count(&replies).Error)
	assert.Equal(t, int64(0), replies)

	// The event stays on record so a re-delivery is still deduplicated
	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", "inbound_mail", "msg-stranger").
		Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestInboundMailRejectsMissingFields(t *testing.T) {
	db := newTestDB(t)
	app, _ := newWebhookApp(db)

	resp, _ := postJSON(t, app, "/webhooks/inbound-mail", map[string]string{
		"from_email": "alice@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClaimEventDeduplicates(t *testing.T) {
	db := newTestDB(t)
	_, wc := newWebhookApp(db)

	claimed, err := wc.claimEvent("stripe", "evt_1", "invoice.paid", "{}")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = wc.claimEvent("stripe", "evt_1", "invoice.paid", "{}")
	require.NoError(t, err)
	assert.False(t, claimed)

	// Same event id under a different provider is a distinct event
	claimed, err = wc.claimEvent("inbound_mail", "evt_1", "reply", "{}")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSubscriptionUpdatedMapsStatuses(t *testing.T) {
	db := newTestDB(t)
	_, wc := newWebhookApp(db)

	customerID := "cus_123"
	user := models.User{
		Email: "payer@example.com", IsActive: true,
		StripeCustomerID: &customerID, SubscriptionStatus: "active",
	}
	require.NoError(t, db.Create(&user).Error)

	sub := &stripe.Subscription{
		Customer: &stripe.Customer{ID: customerID},
		Status:   stripe.SubscriptionStatusPastDue,
	}
	require.NoError(t, wc.handleSubscriptionUpdated(sub))

	var after models.User
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "past_due", after.SubscriptionStatus)

	sub.Status = stripe.SubscriptionStatusCanceled
	require.NoError(t, wc.handleSubscriptionUpdated(sub))
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "canceled", after.SubscriptionStatus)
}

func TestSubscriptionDeletedDowngradesToFree(t *testing.T) {
	db := newTestDB(t)
	_, wc := newWebhookApp(db)

	free := models.Plan{Name: "free", MonthlyProspectLimit: 25, AIBudgetCents: 100}
	require.NoError(t, db.Create(&free).Error)

	customerID := "cus_456"
	user := models.User{
		Email: "payer@example.com", IsActive: true,
		StripeCustomerID: &customerID,
		PlanName:         "growth", SubscriptionStatus: "active",
	}
	require.NoError(t, db.Create(&user).Error)

	require.NoError(t, wc.handleSubscriptionDeleted(&stripe.Subscription{
		Customer: &stripe.Customer{ID: customerID},
	}))

	var after models.User
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "canceled", after.SubscriptionStatus)
	assert.Equal(t, "free", after.PlanName)
	require.NotNil(t, after.PlanID)
	assert.Equal(t, free.ID, *after.PlanID)
}
