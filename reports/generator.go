package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"

	"coldreach/decision"
	"coldreach/mailer"
	"coldreach/models"
	"coldreach/pipeline"
	"coldreach/retention"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Report periods
const (
	PeriodWeekly    = "weekly"
	PeriodMonthly   = "monthly"
	PeriodQuarterly = "quarterly"
)

// Summary is the stored report body
type Summary struct {
	ProspectsDiscovered int            `json:"prospects_discovered"`
	EmailsSent          int            `json:"emails_sent"`
	RepliesByCategory   map[string]int `json:"replies_by_category"`
	TotalReplies        int            `json:"total_replies"`
	ApprovalRatePct     int            `json:"approval_rate_pct"`

	// Monthly and quarterly only
	PlanUsage *PlanUsage `json:"plan_usage,omitempty"`

	// Quarterly only: sends per month, oldest first
	MonthlyTrend []TrendPoint `json:"monthly_trend,omitempty"`
}

// PlanUsage compares monthly prospect consumption to the plan cap
type PlanUsage struct {
	ProspectsUsed int `json:"prospects_used"`
	ProspectLimit int `json:"prospect_limit"`
	UsagePct      int `json:"usage_pct"`
}

// TrendPoint is one month's send volume
type TrendPoint struct {
	Month      string `json:"month"` // 2006-01
	EmailsSent int    `json:"emails_sent"`
}

// Generator builds and delivers periodic user reports
type Generator struct {
	DB        *gorm.DB
	Decisions *decision.Service
	Mailer    retention.TransactionalSender
	Logger    *log.Logger

	Now func() time.Time
}

// NewGenerator creates a report generator
func NewGenerator(db *gorm.DB, decisions *decision.Service, tm retention.TransactionalSender, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{DB: db, Decisions: decisions, Mailer: tm, Logger: logger, Now: time.Now}
}

// RunWeekly generates last week's report for every active user
func (g *Generator) RunWeekly(ctx context.Context) error {
	end := g.Now()
	return g.run(ctx, PeriodWeekly, end.Add(-7*24*time.Hour), end)
}

// RunMonthly covers the previous calendar month
func (g *Generator) RunMonthly(ctx context.Context) error {
	now := g.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	end := start.AddDate(0, 1, 0)
	return g.run(ctx, PeriodMonthly, start, end)
}

// RunQuarterly covers the previous calendar quarter
func (g *Generator) RunQuarterly(ctx context.Context) error {
	now := g.Now().UTC()
	quarterStartMonth := time.Month(((int(now.Month())-1)/3)*3 + 1)
	thisQuarter := time.Date(now.Year(), quarterStartMonth, 1, 0, 0, 0, 0, time.UTC)
	start := thisQuarter.AddDate(0, -3, 0)
	return g.run(ctx, PeriodQuarterly, start, thisQuarter)
}

func (g *Generator) run(ctx context.Context, period string, start, end time.Time) error {
	var users []models.User
	err := g.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&users).Error
	if err != nil {
		return err
	}

	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.generateFor(&users[i], period, start, end); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": users[i].ID,
				"period":  period,
				"error":   err.Error(),
			}).Error("report generation failed")
		}
	}
	return nil
}

func (g *Generator) generateFor(user *models.User, period string, start, end time.Time) error {
	// One report per user per period window
	var existing int64
	err := g.DB.Model(&models.Report{}).
		Where("user_id = ? AND period = ? AND period_start = ?", user.ID, period, start).
		Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	summary, err := g.buildSummary(user, period, start, end)
	if err != nil {
		return err
	}

	// Skip users with nothing to report on
	if summary.ProspectsDiscovered == 0 && summary.EmailsSent == 0 && summary.TotalReplies == 0 {
		return nil
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	report := models.Report{
		UserID:      user.ID,
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   end,
		Body:        string(body),
	}
	if err := g.DB.Create(&report).Error; err != nil {
		return err
	}

	if err := g.email(user, &report, summary); err != nil {
		g.Logger.Printf("⚠️ report email to user %d failed: %v", user.ID, err)
	} else {
		now := g.Now()
		g.DB.Model(&report).Update("emailed_at", now)
	}

	_, err = g.Decisions.Enqueue(decision.EnqueueInput{
		UserID:     &user.ID,
		Title:      fmt.Sprintf("%s report generated for %s", titleCase(period), user.Email),
		Category:   models.CategoryProduct,
		Urgency:    models.UrgencyLow,
		SafetyGate: models.GateAutoLog,
		ProposedAction: map[string]interface{}{
			"report_id": report.ID,
			"period":    period,
		},
	})
	return err
}

// titleCase uppercases the first letter; period names are plain ASCII
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (g *Generator) buildSummary(user *models.User, period string, start, end time.Time) (*Summary, error) {
	summary := &Summary{RepliesByCategory: map[string]int{}}

	var discovered int64
	err := g.DB.Model(&models.Prospect{}).
		Joins("JOIN campaigns ON campaigns.id = prospects.campaign_id").
		Where("campaigns.user_id = ? AND prospects.created_at >= ? AND prospects.created_at < ?", user.ID, start, end).
		Count(&discovered).Error
	if err != nil {
		return nil, err
	}
	summary.ProspectsDiscovered = int(discovered)

	var sent int64
	err = g.DB.Model(&models.SendQueueRow{}).
		Joins("JOIN campaigns ON campaigns.id = send_queue_rows.campaign_id").
		Where("campaigns.user_id = ? AND send_queue_rows.status = ? AND send_queue_rows.sent_at >= ? AND send_queue_rows.sent_at < ?",
			user.ID, models.QueueSent, start, end).
		Count(&sent).Error
	if err != nil {
		return nil, err
	}
	summary.EmailsSent = int(sent)

	type categoryCount struct {
		Category string
		N        int
	}
	var counts []categoryCount
	err = g.DB.Model(&models.ProspectReply{}).
		Select("category, count(*) as n").
		Where("user_id = ? AND received_at >= ? AND received_at < ? AND category IS NOT NULL", user.ID, start, end).
		Group("category").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		summary.RepliesByCategory[c.Category] = c.N
		summary.TotalReplies += c.N
	}

	var approved, reviewed int64
	g.DB.Model(&models.GeneratedEmail{}).
		Where("user_id = ? AND updated_at >= ? AND updated_at < ? AND status IN ?",
			user.ID, start, end, []string{models.EmailApproved, models.EmailSent}).
		Count(&approved)
	g.DB.Model(&models.GeneratedEmail{}).
		Where("user_id = ? AND updated_at >= ? AND updated_at < ? AND status IN ?",
			user.ID, start, end, []string{models.EmailApproved, models.EmailSent, models.EmailRejected}).
		Count(&reviewed)
	if reviewed > 0 {
		summary.ApprovalRatePct = int(100 * approved / reviewed)
	}

	if period == PeriodMonthly || period == PeriodQuarterly {
		used, limit, err := pipeline.MonthlyProspectUsage(g.DB, user.ID)
		if err == nil && limit > 0 {
			summary.PlanUsage = &PlanUsage{
				ProspectsUsed: used,
				ProspectLimit: limit,
				UsagePct:      100 * used / limit,
			}
		}
	}

	if period == PeriodQuarterly {
		trend, err := g.monthlyTrend(user.ID, start, end)
		if err != nil {
			return nil, err
		}
		summary.MonthlyTrend = trend
	}

	return summary, nil
}

func (g *Generator) monthlyTrend(userID uint, start, end time.Time) ([]TrendPoint, error) {
	var trend []TrendPoint
	for cursor := start; cursor.Before(end); cursor = cursor.AddDate(0, 1, 0) {
		next := cursor.AddDate(0, 1, 0)
		var sent int64
		err := g.DB.Model(&models.SendQueueRow{}).
			Joins("JOIN campaigns ON campaigns.id = send_queue_rows.campaign_id").
			Where("campaigns.user_id = ? AND send_queue_rows.status = ? AND send_queue_rows.sent_at >= ? AND send_queue_rows.sent_at < ?",
				userID, models.QueueSent, cursor, next).
			Count(&sent).Error
		if err != nil {
			return nil, err
		}
		trend = append(trend, TrendPoint{Month: cursor.Format("2006-01"), EmailsSent: int(sent)})
	}
	return trend, nil
}

func (g *Generator) email(user *models.User, report *models.Report, summary *Summary) error {
	name := user.Email
	if user.Name != nil && *user.Name != "" {
		name = *user.Name
	}

	subject := fmt.Sprintf("Your %s ColdReach report", report.Period)
	var b strings.Builder
	fmt.Fprintf(&b, "<p><span class=\"stat\">%d</span> prospects discovered, <span class=\"stat\">%d</span> emails sent.</p>",
		summary.ProspectsDiscovered, summary.EmailsSent)
	if summary.TotalReplies > 0 {
		fmt.Fprintf(&b, "<p><span class=\"stat\">%d</span> replies", summary.TotalReplies)
		if n := summary.RepliesByCategory[models.ReplyInterested]; n > 0 {
			fmt.Fprintf(&b, ", %d of them interested", n)
		}
		b.WriteString(".</p>")
	}
	if summary.ApprovalRatePct > 0 {
		fmt.Fprintf(&b, "<p>You approved %d%% of drafts this period.</p>", summary.ApprovalRatePct)
	}
	if summary.PlanUsage != nil {
		fmt.Fprintf(&b, "<p>Plan usage: %d of %d prospects (%d%%).</p>",
			summary.PlanUsage.ProspectsUsed, summary.PlanUsage.ProspectLimit, summary.PlanUsage.UsagePct)
	}

	return g.Mailer.Send(mailer.TransactionalData{
		Subject:  subject,
		To:       []string{user.Email},
		Template: "report",
		Data: map[string]interface{}{
			"Subject":  subject,
			"Heading":  fmt.Sprintf("%s to %s", report.PeriodStart.Format("Jan 2"), report.PeriodEnd.Format("Jan 2, 2006")),
			"Name":     name,
			"BodyHTML": template.HTML(b.String()),
			"Year":     g.Now().Year(),
		},
	})
}
