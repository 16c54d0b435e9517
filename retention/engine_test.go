package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"coldreach/decision"
	"coldreach/llm"
	"coldreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:retention_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Plan{},
		&models.Campaign{}, &models.Prospect{},
		&models.GeneratedEmail{}, &models.ProspectReply{}, &models.ReplyDraft{},
		&models.EngagementScore{}, &models.RetentionAction{},
		&models.Decision{}, &models.SafetyGateLog{},
	))
	return db
}

type stubProvider struct {
	calls []string
}

func (s *stubProvider) Call(ctx context.Context, userID uint, taskTag, prompt string) (*llm.Result, error) {
	s.calls = append(s.calls, taskTag)
	return &llm.Result{Content: `{"subject":"We miss you","body":"Anything I can help with?"}`, Model: "stub-model"}, nil
}

func (s *stubProvider) CallJSON(ctx context.Context, userID uint, taskTag, prompt string, out interface{}) (*llm.Result, error) {
	res, err := s.Call(ctx, userID, taskTag, prompt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(res.Content), out); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *stubProvider) CheckBudget(userID uint) (*llm.BudgetStatus, error) {
	return &llm.BudgetStatus{Allowed: true, RemainingCents: 500}, nil
}

func newTestEngine(db *gorm.DB) (*Engine, *stubProvider) {
	stub := &stubProvider{}
	quiet := log.New(io.Discard, "", 0)
	e := NewEngine(db, decision.NewService(db, quiet, nil), stub, quiet)
	return e, stub
}

func seedUser(t *testing.T, db *gorm.DB, planLimit int) *models.User {
	t.Helper()
	plan := models.Plan{
		Name:                 "starter",
		MonthlyProspectLimit: planLimit,
		AIBudgetCents:        500,
		DailySendLimit:       25,
		PriceCents:           2900,
	}
	require.NoError(t, db.Create(&plan).Error)
	user := models.User{
		Email:    "user@example.com",
		IsActive: true,
		PlanID:   &plan.ID,
		PlanName: plan.Name,
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Preload("Plan").First(&user, user.ID).Error)
	return &user
}

func actionCount(t *testing.T, db *gorm.DB, userID uint, actionType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.RetentionAction{}).
		Where("user_id = ? AND action_type = ?", userID, actionType).
		Count(&count).Error)
	return count
}

func TestChurnRiskThresholds(t *testing.T) {
	assert.Equal(t, models.ChurnCritical, churnRisk(0))
	assert.Equal(t, models.ChurnCritical, churnRisk(19))
	assert.Equal(t, models.ChurnHigh, churnRisk(20))
	assert.Equal(t, models.ChurnHigh, churnRisk(39))
	assert.Equal(t, models.ChurnMedium, churnRisk(40))
	assert.Equal(t, models.ChurnMedium, churnRisk(64))
	assert.Equal(t, models.ChurnLow, churnRisk(65))
	assert.Equal(t, models.ChurnLow, churnRisk(100))
}

func TestClampComponent(t *testing.T) {
	assert.Equal(t, 0, clampComponent(-3))
	assert.Equal(t, 12, clampComponent(12))
	assert.Equal(t, 25, clampComponent(40))
}

func TestComputeScoreComponents(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)

	lastLogin := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(user).Update("last_login_at", lastLogin).Error)

	// Two active campaigns, one archived
	for i, archived := range []bool{false, false, true} {
		require.NoError(t, db.Create(&models.Campaign{
			UserID: user.ID, Name: fmt.Sprintf("c%d", i),
			Status: "active", IsArchived: archived,
		}).Error)
	}

	// Three approved drafts, one rejected
	for i, status := range []string{models.EmailApproved, models.EmailApproved, models.EmailSent, models.EmailRejected} {
		require.NoError(t, db.Create(&models.GeneratedEmail{
			ProspectID: 1, CampaignID: 1, UserID: user.ID,
			Subject: fmt.Sprintf("s%d", i), Body: "b",
			RecipientEmail: "p@x.io", Status: status,
		}).Error)
	}

	// Four replies, one answered with an approved draft
	for i := 0; i < 4; i++ {
		reply := models.ProspectReply{
			ProspectID: 1, CampaignID: 1, UserID: user.ID,
			FromEmail: fmt.Sprintf("p%d@x.io", i), ReceivedAt: time.Now().Add(-time.Hour),
		}
		require.NoError(t, db.Create(&reply).Error)
		if i == 0 {
			require.NoError(t, db.Create(&models.ReplyDraft{
				ReplyID: reply.ID, ProspectID: 1, UserID: user.ID,
				Subject: "re", Body: "b", Status: "approved",
			}).Error)
		}
	}

	e, _ := newTestEngine(db)
	score, err := e.ComputeScore(user)
	require.NoError(t, err)

	// Login 6 of the last 7 days: round(6/7*25) = 21
	assert.Equal(t, 21, score.LoginFrequency)
	// 3 approved of 4 reviewed: round(25*3/4) = 19
	assert.Equal(t, 19, score.ApprovalRate)
	// 2 active campaigns * 8 = 16
	assert.Equal(t, 16, score.CampaignActivity)
	// 1 answered of 4 replies: round(25/4) = 6
	assert.Equal(t, 6, score.ReplyEngagement)
	assert.Equal(t, 62, score.Total)
	assert.Equal(t, models.ChurnMedium, score.ChurnRisk)
}

func TestComputeScoreUpsertsSingleRow(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)
	e, _ := newTestEngine(db)

	_, err := e.ComputeScore(user)
	require.NoError(t, err)
	_, err = e.ComputeScore(user)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.EngagementScore{}).
		Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHabitNudgeFiresOnceWithinCooldown(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)
	lastLogin := time.Now().Add(-5 * 24 * time.Hour)
	require.NoError(t, db.Model(user).Update("last_login_at", lastLogin).Error)

	e, _ := newTestEngine(db)
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionHabitReinforcement))

	var action models.RetentionAction
	require.NoError(t, db.Where("user_id = ? AND action_type = ?", user.ID, models.ActionHabitReinforcement).
		First(&action).Error)
	require.NotNil(t, action.DecisionID)
	var d models.Decision
	require.NoError(t, db.First(&d, *action.DecisionID).Error)
	assert.Equal(t, models.GateAutoNotify, d.SafetyGate)
	assert.Equal(t, models.DecisionAutoExecuted, d.Status)

	// Second daily run inside the 7-day cooldown fires nothing new
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionHabitReinforcement))
}

func TestExpansionPromptAtUsageThreshold(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 10)
	require.NoError(t, db.Model(user).Update("last_login_at", time.Now()).Error)

	campaign := models.Campaign{UserID: user.ID, Name: "c", Status: "active"}
	require.NoError(t, db.Create(&campaign).Error)
	for i := 0; i < 8; i++ {
		require.NoError(t, db.Create(&models.Prospect{
			CampaignID: campaign.ID, UserID: user.ID,
			Email: fmt.Sprintf("p%d@x.io", i), Status: models.ProspectDiscovered,
		}).Error)
	}

	e, _ := newTestEngine(db)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionExpansionPrompt))

	var action models.RetentionAction
	require.NoError(t, db.Where("user_id = ? AND action_type = ?", user.ID, models.ActionExpansionPrompt).
		First(&action).Error)
	var d models.Decision
	require.NoError(t, db.First(&d, *action.DecisionID).Error)
	assert.Equal(t, models.GateDelayedExecute, d.SafetyGate)
	assert.Equal(t, models.DecisionScheduled, d.Status)
	assert.Equal(t, models.CategoryRevenue, d.Category)
}

func TestExpansionPromptSkipsTopTierPlan(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 10)
	require.NoError(t, db.Model(&models.Plan{}).Where("id = ?", *user.PlanID).
		Update("is_top_tier", true).Error)
	require.NoError(t, db.Model(user).Update("last_login_at", time.Now()).Error)

	campaign := models.Campaign{UserID: user.ID, Name: "c", Status: "active"}
	require.NoError(t, db.Create(&campaign).Error)
	for i := 0; i < 9; i++ {
		require.NoError(t, db.Create(&models.Prospect{
			CampaignID: campaign.ID, UserID: user.ID,
			Email: fmt.Sprintf("p%d@x.io", i), Status: models.ProspectDiscovered,
		}).Error)
	}

	e, _ := newTestEngine(db)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, int64(0), actionCount(t, db, user.ID, models.ActionExpansionPrompt))
}

func TestWinBackDraftsPersonalEmail(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)
	// No login, no activity: score 0, critical churn risk

	e, stub := newTestEngine(db)
	require.NoError(t, e.Run(context.Background()))

	assert.Contains(t, stub.calls, llm.TaskWinBack)
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionWinBack))

	var action models.RetentionAction
	require.NoError(t, db.Where("user_id = ? AND action_type = ?", user.ID, models.ActionWinBack).
		First(&action).Error)
	var d models.Decision
	require.NoError(t, db.First(&d, *action.DecisionID).Error)
	assert.Equal(t, models.UrgencyHigh, d.Urgency)
	assert.Contains(t, d.ProposedAction, "We miss you")

	// Cooldown holds on the next run
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionWinBack))
}

func TestTestimonialRequestForHighScore(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)
	require.NoError(t, db.Model(user).Update("last_login_at", time.Now()).Error)

	// Four active campaigns max the activity component
	for i := 0; i < 4; i++ {
		require.NoError(t, db.Create(&models.Campaign{
			UserID: user.ID, Name: fmt.Sprintf("c%d", i), Status: "active",
		}).Error)
	}
	// Every draft approved, every reply answered
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.GeneratedEmail{
			ProspectID: 1, CampaignID: 1, UserID: user.ID,
			Subject: "s", Body: "b", RecipientEmail: "p@x.io",
			Status: models.EmailApproved,
		}).Error)
		reply := models.ProspectReply{
			ProspectID: 1, CampaignID: 1, UserID: user.ID,
			FromEmail: fmt.Sprintf("p%d@x.io", i), ReceivedAt: time.Now().Add(-time.Hour),
		}
		require.NoError(t, db.Create(&reply).Error)
		require.NoError(t, db.Create(&models.ReplyDraft{
			ReplyID: reply.ID, ProspectID: 1, UserID: user.ID,
			Subject: "re", Body: "b", Status: "approved",
		}).Error)
	}

	e, _ := newTestEngine(db)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionTestimonialRequest))
	assert.Equal(t, int64(0), actionCount(t, db, user.ID, models.ActionWinBack))
}

func TestStuckUserDetection(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)

	email := models.GeneratedEmail{
		ProspectID: 1, CampaignID: 1, UserID: user.ID,
		Subject: "s", Body: "b", RecipientEmail: "p@x.io",
		Status: models.EmailPendingApproval,
	}
	require.NoError(t, db.Create(&email).Error)
	stale := time.Now().Add(-4 * 24 * time.Hour)
	require.NoError(t, db.Model(&email).UpdateColumn("created_at", stale).Error)

	e, _ := newTestEngine(db)
	require.NoError(t, e.RunStuckUserDetection(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionStuckUserNudge))

	// Re-detection inside the cooldown is suppressed
	require.NoError(t, e.RunStuckUserDetection(context.Background()))
	assert.Equal(t, int64(1), actionCount(t, db, user.ID, models.ActionStuckUserNudge))
}

func TestStuckUserSkippedWhenReviewing(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 100)

	email := models.GeneratedEmail{
		ProspectID: 1, CampaignID: 1, UserID: user.ID,
		Subject: "s", Body: "b", RecipientEmail: "p@x.io",
		Status: models.EmailPendingApproval,
	}
	require.NoError(t, db.Create(&email).Error)
	stale := time.Now().Add(-4 * 24 * time.Hour)
	require.NoError(t, db.Model(&email).UpdateColumn("created_at", stale).Error)

	// A recent approval proves the user is actively reviewing
	require.NoError(t, db.Create(&models.GeneratedEmail{
		ProspectID: 2, CampaignID: 1, UserID: user.ID,
		Subject: "s2", Body: "b", RecipientEmail: "q@x.io",
		Status: models.EmailApproved,
	}).Error)

	e, _ := newTestEngine(db)
	require.NoError(t, e.RunStuckUserDetection(context.Background()))
	assert.Equal(t, int64(0), actionCount(t, db, user.ID, models.ActionStuckUserNudge))
}
