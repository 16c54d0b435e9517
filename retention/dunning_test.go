package retention

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"coldreach/decision"
	"coldreach/mailer"
	"coldreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSender struct {
	sent []mailer.TransactionalData
}

func (s *recordingSender) Send(data mailer.TransactionalData) error {
	s.sent = append(s.sent, data)
	return nil
}

func newTestDunning(db *gorm.DB) (*Dunning, *recordingSender) {
	sender := &recordingSender{}
	quiet := log.New(io.Discard, "", 0)
	dn := NewDunning(db, decision.NewService(db, quiet, nil), sender, "https://app.example.com/billing", quiet)
	return dn, sender
}

func seedPayingUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	free := models.Plan{Name: "free", MonthlyProspectLimit: 25, AIBudgetCents: 100, PriceCents: 0}
	require.NoError(t, db.Create(&free).Error)
	growth := models.Plan{Name: "growth", MonthlyProspectLimit: 500, AIBudgetCents: 2000, PriceCents: 9900}
	require.NoError(t, db.Create(&growth).Error)

	user := models.User{
		Email:              "payer@example.com",
		IsActive:           true,
		PlanID:             &growth.ID,
		PlanName:           "growth",
		SubscriptionStatus: "active",
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// backdateAction moves an already-recorded ladder step into the past
func backdateAction(t *testing.T, db *gorm.DB, userID uint, actionType string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&models.RetentionAction{}).
		Where("user_id = ? AND action_type = ?", userID, actionType).
		UpdateColumn("created_at", at).Error)
}

func TestPaymentFailedStartsLadder(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	dn, sender := newTestDunning(db)

	require.NoError(t, dn.HandlePaymentFailed(user.ID))

	var after models.User
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "past_due", after.SubscriptionStatus)

	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay0))

	var action models.RetentionAction
	require.NoError(t, db.Where("user_id = ? AND action_type = ?", user.ID, models.ActionDunningDay0).
		First(&action).Error)
	var d models.Decision
	require.NoError(t, db.First(&d, *action.DecisionID).Error)
	assert.Equal(t, models.GateAutoNotify, d.SafetyGate)
	assert.Equal(t, models.CategoryRevenue, d.Category)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "dunning", sender.sent[0].Template)
	assert.Equal(t, []string{user.Email}, sender.sent[0].To)
	assert.Equal(t, "https://app.example.com/billing", sender.sent[0].Data.(map[string]interface{})["BillingURL"])
}

func TestPaymentFailedIsIdempotentPerCycle(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	dn, sender := newTestDunning(db)

	require.NoError(t, dn.HandlePaymentFailed(user.ID))
	require.NoError(t, dn.HandlePaymentFailed(user.ID))

	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay0))
	assert.Len(t, sender.sent, 1)
}

func TestLadderAdvancesDay3ThenDay7(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	dn, sender := newTestDunning(db)

	require.NoError(t, dn.HandlePaymentFailed(user.ID))
	day0 := time.Now()

	dn.Now = func() time.Time { return day0.Add(4 * 24 * time.Hour) }
	require.NoError(t, dn.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay3))
	assert.Equal(t, int64(0), actionCount(t, db, user.ID, models.ActionDunningDay7))

	// Re-running the same day does not duplicate the step
	require.NoError(t, dn.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay3))

	dn.Now = func() time.Time { return day0.Add(8 * 24 * time.Hour) }
	require.NoError(t, dn.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay7))

	var action models.RetentionAction
	require.NoError(t, db.Where("user_id = ? AND action_type = ?", user.ID, models.ActionDunningDay7).
		First(&action).Error)
	var d models.Decision
	require.NoError(t, db.First(&d, *action.DecisionID).Error)
	assert.Equal(t, models.GateDelayedExecute, d.SafetyGate)
	assert.Equal(t, models.UrgencyHigh, d.Urgency)

	// day0, day3, day7 emails
	assert.Len(t, sender.sent, 3)
}

func TestDay14DowngradesToFree(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	dn, _ := newTestDunning(db)

	require.NoError(t, dn.HandlePaymentFailed(user.ID))
	day0 := time.Now()

	dn.Now = func() time.Time { return day0.Add(15 * 24 * time.Hour) }
	require.NoError(t, dn.Run(context.Background()))

	var after models.User
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "canceled", after.SubscriptionStatus)
	assert.Equal(t, "free", after.PlanName)
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay14))

	// A downgraded user drops out of the ladder entirely
	require.NoError(t, dn.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay14))
}

func TestRecoveredUserIsNotDowngraded(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	dn, _ := newTestDunning(db)

	require.NoError(t, dn.HandlePaymentFailed(user.ID))
	backdateAction(t, db, user.ID, models.ActionDunningDay0, time.Now().Add(-15*24*time.Hour))

	// Payment recovered before the terminal step
	require.NoError(t, db.Model(user).Update("subscription_status", "active").Error)

	require.NoError(t, dn.Run(context.Background()))

	var after models.User
	require.NoError(t, db.First(&after, user.ID).Error)
	assert.Equal(t, "active", after.SubscriptionStatus)
	assert.Equal(t, "growth", after.PlanName)
	assert.Equal(t, int64(0), actionCount(t, db, user.ID, models.ActionDunningDay14))
}

func TestMissedWebhookStartsLadderFromDailyRun(t *testing.T) {
	db := newTestDB(t)
	user := seedPayingUser(t, db)
	require.NoError(t, db.Model(user).Update("subscription_status", "past_due").Error)

	dn, sender := newTestDunning(db)
	require.NoError(t, dn.Run(context.Background()))

	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionDunningDay0))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Subject, "Payment issue")
}

func TestDunningCopyPerStep(t *testing.T) {
	for _, tc := range []struct {
		actionType string
		fragment   string
	}{
		{models.ActionDunningDay0, "Payment issue"},
		{models.ActionDunningDay3, "Reminder"},
		{models.ActionDunningDay7, "Action needed"},
		{models.ActionDunningDay14, "downgraded"},
	} {
		subject, _, _ := dunningCopy(tc.actionType)
		assert.Contains(t, subject, tc.fragment, fmt.Sprintf("step %s", tc.actionType))
	}
}
