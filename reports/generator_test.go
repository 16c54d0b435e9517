package reports

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
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:reports_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Plan{},
		&models.Campaign{}, &models.Prospect{},
		&models.GeneratedEmail{}, &models.SendQueueRow{}, &models.ProspectReply{},
		&models.Report{}, &models.Decision{}, &models.SafetyGateLog{},
	))
	return db
}

type recordingSender struct {
	sent []mailer.TransactionalData
}

func (s *recordingSender) Send(data mailer.TransactionalData) error {
	s.sent = append(s.sent, data)
	return nil
}

func newTestGenerator(db *gorm.DB) (*Generator, *recordingSender) {
	sender := &recordingSender{}
	quiet := log.New(io.Discard, "", 0)
	g := NewGenerator(db, decision.NewService(db, quiet, nil), sender, quiet)
	return g, sender
}

func seedActiveWeek(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	plan := models.Plan{Name: "growth", MonthlyProspectLimit: 100, AIBudgetCents: 2000}
	require.NoError(t, db.Create(&plan).Error)
	user := models.User{
		Email: "owner@example.com", IsActive: true,
		PlanID: &plan.ID, PlanName: "growth",
	}
	require.NoError(t, db.Create(&user).Error)
	campaign := models.Campaign{UserID: user.ID, Name: "c", Status: "active"}
	require.NoError(t, db.Create(&campaign).Error)

	// Three prospects discovered this week, two emails sent, two replies
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Prospect{
			CampaignID: campaign.ID, UserID: user.ID,
			Email: fmt.Sprintf("p%d@x.io", i), Status: models.ProspectSent,
		}).Error)
	}
	for i := 0; i < 2; i++ {
		sentAt := time.Now().Add(-time.Duration(i+1) * 24 * time.Hour)
		require.NoError(t, db.Create(&models.SendQueueRow{
			CampaignID: campaign.ID, ProspectID: uint(i + 1), GeneratedEmailID: uint(i + 1),
			RecipientEmail: fmt.Sprintf("p%d@x.io", i), Subject: "s", Body: "b",
			ScheduledFor: sentAt, Status: models.QueueSent, SentAt: &sentAt,
		}).Error)
	}
	interested := models.ReplyInterested
	question := models.ReplyQuestion
	for i, cat := range []*string{&interested, &question} {
		require.NoError(t, db.Create(&models.ProspectReply{
			ProspectID: uint(i + 1), CampaignID: campaign.ID, UserID: user.ID,
			FromEmail: fmt.Sprintf("p%d@x.io", i), ReceivedAt: time.Now().Add(-12 * time.Hour),
			Category: cat,
		}).Error)
	}
	// Three approved, one rejected this week
	for i, status := range []string{models.EmailApproved, models.EmailApproved, models.EmailSent, models.EmailRejected} {
		require.NoError(t, db.Create(&models.GeneratedEmail{
			ProspectID: uint(i + 1), CampaignID: campaign.ID, UserID: user.ID,
			Subject: "s", Body: "b", RecipientEmail: "p@x.io", Status: status,
		}).Error)
	}
	return &user
}

func TestWeeklyReportBuildsAndEmails(t *testing.T) {
	db := newTestDB(t)
	user := seedActiveWeek(t, db)
	g, sender := newTestGenerator(db)

	require.NoError(t, g.RunWeekly(context.Background()))

	var report models.Report
	require.NoError(t, db.Where("user_id = ? AND period = ?", user.ID, PeriodWeekly).First(&report).Error)
	assert.Contains(t, report.Body, `"prospects_discovered":3`)
	assert.Contains(t, report.Body, `"emails_sent":2`)
	assert.Contains(t, report.Body, `"interested":1`)
	assert.Contains(t, report.Body, `"approval_rate_pct":75`)
	assert.NotNil(t, report.EmailedAt)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "report", sender.sent[0].Template)
	assert.Equal(t, []string{user.Email}, sender.sent[0].To)

	// Generation is logged as a gate-0 decision
	var d models.Decision
	require.NoError(t, db.Where("category = ?", models.CategoryProduct).First(&d).Error)
	assert.Equal(t, models.DecisionAutoExecuted, d.Status)
}

func TestWeeklyReportIsDedupedPerWindow(t *testing.T) {
	db := newTestDB(t)
	user := seedActiveWeek(t, db)
	g, sender := newTestGenerator(db)

	fixed := time.Now()
	g.Now = func() time.Time { return fixed }

	require.NoError(t, g.RunWeekly(context.Background()))
	require.NoError(t, g.RunWeekly(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.Report{}).
		Where("user_id = ? AND period = ?", user.ID, PeriodWeekly).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, sender.sent, 1)
}

func TestQuietUserGetsNoReport(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.User{Email: "quiet@example.com", IsActive: true}).Error)
	g, sender := newTestGenerator(db)

	require.NoError(t, g.RunWeekly(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.Report{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	assert.Empty(t, sender.sent)
}

func TestMonthlyReportIncludesPlanUsage(t *testing.T) {
	db := newTestDB(t)
	user := seedActiveWeek(t, db)
	g, _ := newTestGenerator(db)

	// Activity sits in the previous calendar month from this vantage point
	g.Now = func() time.Time {
		return time.Now().UTC().AddDate(0, 1, 0)
	}
	require.NoError(t, g.RunMonthly(context.Background()))

	var report models.Report
	require.NoError(t, db.Where("user_id = ? AND period = ?", user.ID, PeriodMonthly).First(&report).Error)
	assert.Contains(t, report.Body, `"plan_usage"`)
	assert.Contains(t, report.Body, `"prospect_limit":100`)
}

func TestQuarterStartComputation(t *testing.T) {
	db := newTestDB(t)
	g, _ := newTestGenerator(db)

	// In May the previous quarter is Jan 1 to Apr 1
	g.Now = func() time.Time {
		return time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC)
	}
	require.NoError(t, g.RunQuarterly(context.Background()))
	// No users seeded: nothing generated, the window math just must not error
	var count int64
	require.NoError(t, db.Model(&models.Report{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
