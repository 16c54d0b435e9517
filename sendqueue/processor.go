package sendqueue

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"coldreach/mailer"
	"coldreach/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Retry policy knobs. The backoff values are policy, not provider
// contract; tune per deployment.
type RetryPolicy struct {
	Base        time.Duration // first retry delay
	Cap         time.Duration // delay ceiling
	JitterFrac  float64       // ± fraction of the computed delay
	MaxAttempts int           // terminal failed after this many attempts
}

// DefaultRetryPolicy returns the stock policy: 30s base, doubling, 1h
// cap, ±10% jitter, 5 attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        30 * time.Second,
		Cap:         time.Hour,
		JitterFrac:  0.10,
		MaxAttempts: 5,
	}
}

// Processor drains due send-queue rows, one attempt per row per tick
type Processor struct {
	DB        *gorm.DB
	Sender    mailer.ColdSender
	Logger    *log.Logger
	BatchSize int
	Retry     RetryPolicy

	// Now is swappable for tests
	Now func() time.Time
}

// NewProcessor creates a send-queue processor with default batch size
func NewProcessor(db *gorm.DB, sender mailer.ColdSender, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		DB:        db,
		Sender:    sender,
		Logger:    logger,
		BatchSize: 100,
		Retry:     DefaultRetryPolicy(),
		Now:       time.Now,
	}
}

// Run processes one tick of the queue. The loop is strictly serial; row
// state transitions are compare-and-set so a concurrent tick cannot
// double-send.
func (p *Processor) Run(ctx context.Context) error {
	now := p.Now()

	var rows []models.SendQueueRow
	err := p.DB.WithContext(ctx).
		Joins("JOIN campaign_sending_contexts csc ON csc.campaign_id = send_queue_rows.campaign_id AND csc.status = ? AND csc.deleted_at IS NULL", "active").
		Where("send_queue_rows.status IN ? AND send_queue_rows.scheduled_for <= ? AND send_queue_rows.attempt_count < ?",
			[]string{models.QueuePending, models.QueueFailed}, now, p.Retry.MaxAttempts).
		Order("send_queue_rows.scheduled_for asc").
		Limit(p.BatchSize).
		Find(&rows).Error
	if err != nil {
		return err
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processRow(ctx, rows[i].ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"queue_row": rows[i].ID,
				"error":     err.Error(),
			}).Warn("send queue row failed")
		}
	}
	return nil
}

func (p *Processor) processRow(ctx context.Context, rowID uint) error {
	// Reload the row and its campaign context in one read
	var row models.SendQueueRow
	if err := p.DB.First(&row, rowID).Error; err != nil {
		return err
	}
	var sc models.CampaignSendingContext
	if err := p.DB.Where("campaign_id = ?", row.CampaignID).First(&sc).Error; err != nil {
		return err
	}

	now := p.Now()

	if sc.Status != "active" {
		return nil
	}

	// Failed rows wait out their backoff window before the next attempt
	if row.Status == models.QueueFailed && !p.retryDue(&row, now) {
		return nil
	}

	loc := contextLocation(&sc)
	localNow := now.In(loc)

	// Reset the daily counter when the last send happened on an earlier
	// local date. One guarded update; concurrent ticks reset at most once.
	if sc.EmailsSentToday > 0 && sc.LastSentAt != nil {
		if !sameLocalDay(*sc.LastSentAt, now, loc) {
			res := p.DB.Model(&models.CampaignSendingContext{}).
				Where("id = ? AND last_sent_at < ?", sc.ID, startOfLocalDay(localNow)).
				Update("emails_sent_today", 0)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				sc.EmailsSentToday = 0
			}
		}
	}

	// Daily cap reached: skip, do not fail
	if sc.EmailsSentToday >= sc.DailySendLimit {
		return nil
	}

	// Outside the sending window: leave the row pending
	if !withinWindow(localNow, sc.WindowStart, sc.WindowEnd) {
		return nil
	}

	// Stop-on-reply: a reply halts every follow-up row for the prospect
	if sc.StopOnReply && row.IsFollowup {
		var replies int64
		if err := p.DB.Model(&models.ProspectReply{}).
			Where("prospect_id = ?", row.ProspectID).
			Count(&replies).Error; err != nil {
			return err
		}
		if replies > 0 {
			return p.haltFollowUps(row.ProspectID)
		}
	}

	// Claim the attempt. The predicate on (status, attempt_count) is what
	// makes the sent transition at-most-once across concurrent ticks.
	claim := p.DB.Model(&models.SendQueueRow{}).
		Where("id = ? AND status = ? AND attempt_count = ?", row.ID, row.Status, row.AttemptCount).
		Updates(map[string]interface{}{
			"attempt_count":     row.AttemptCount + 1,
			"last_attempted_at": now,
		})
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil // another tick owns this attempt
	}
	row.AttemptCount++

	result, err := p.dispatch(ctx, &row, &sc)
	if err != nil || !result.Success {
		errMsg := "send failed"
		if err != nil {
			errMsg = err.Error()
		} else if result.Error != "" {
			errMsg = result.Error
		}
		return p.markFailed(&row, errMsg, now)
	}

	return p.markSent(&row, &sc, result.MessageID, now)
}

func (p *Processor) dispatch(ctx context.Context, row *models.SendQueueRow, sc *models.CampaignSendingContext) (*mailer.SendResult, error) {
	email := mailer.ColdEmail{
		To:       row.RecipientEmail,
		ToName:   row.RecipientName,
		From:     sc.SenderEmail,
		FromName: sc.SenderName,
		ReplyTo:  sc.ReplyTo,
		Subject:  row.Subject,
		Text:     row.Body,
		HTML:     textToHTML(row.Body),
		Metadata: map[string]string{
			"campaign_id": strconv.Itoa(int(row.CampaignID)),
			"prospect_id": strconv.Itoa(int(row.ProspectID)),
			"email_id":    strconv.Itoa(int(row.GeneratedEmailID)),
		},
	}
	return p.Sender.Send(ctx, email)
}

func (p *Processor) markSent(row *models.SendQueueRow, sc *models.CampaignSendingContext, messageID string, now time.Time) error {
	return p.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SendQueueRow{}).
			Where("id = ? AND status IN ?", row.ID, []string{models.QueuePending, models.QueueFailed}).
			Updates(map[string]interface{}{
				"status":          models.QueueSent,
				"sent_at":         now,
				"provider_msg_id": messageID,
				"error_message":   "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("queue row %d already terminal", row.ID)
		}

		// Counter increment and last_sent_at move in one guarded update
		if err := tx.Model(&models.CampaignSendingContext{}).
			Where("campaign_id = ?", row.CampaignID).
			Updates(map[string]interface{}{
				"emails_sent_today": gorm.Expr("emails_sent_today + ?", 1),
				"last_sent_at":      now,
			}).Error; err != nil {
			return err
		}

		if !row.IsFollowup {
			if err := tx.Model(&models.GeneratedEmail{}).
				Where("id = ?", row.GeneratedEmailID).
				Update("status", models.EmailSent).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Prospect{}).
				Where("id = ? AND status = ?", row.ProspectID, models.ProspectApproved).
				Update("status", models.ProspectSent).Error; err != nil {
				return err
			}
		} else if row.SequenceStepID != nil {
			if err := tx.Model(&models.SequenceStep{}).
				Where("id = ?", *row.SequenceStepID).
				Update("status", "sent").Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Processor) markFailed(row *models.SendQueueRow, errMsg string, now time.Time) error {
	res := p.DB.Model(&models.SendQueueRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"status":        models.QueueFailed,
			"error_message": errMsg,
		})
	if res.Error != nil {
		return res.Error
	}
	if row.AttemptCount >= p.Retry.MaxAttempts {
		p.Logger.Printf("Queue row %d is terminal failed after %d attempts: %s", row.ID, row.AttemptCount, errMsg)
	}
	return nil
}

// haltFollowUps flips every live follow-up row for the prospect to
// halted. Initial rows are untouched; a sent row stays sent.
func (p *Processor) haltFollowUps(prospectID uint) error {
	return p.DB.Model(&models.SendQueueRow{}).
		Where("prospect_id = ? AND is_followup = ? AND status IN ?",
			prospectID, true, []string{models.QueuePending, models.QueueFailed}).
		Update("status", models.QueueHalted).Error
}

// retryDue applies exponential backoff with jitter to a failed row
func (p *Processor) retryDue(row *models.SendQueueRow, now time.Time) bool {
	if row.LastAttemptedAt == nil {
		return true
	}
	delay := p.Retry.Base
	for i := 1; i < row.AttemptCount; i++ {
		delay *= 2
		if delay >= p.Retry.Cap {
			delay = p.Retry.Cap
			break
		}
	}
	if p.Retry.JitterFrac > 0 {
		jitter := time.Duration((rand.Float64()*2 - 1) * p.Retry.JitterFrac * float64(delay))
		delay += jitter
	}
	return !now.Before(row.LastAttemptedAt.Add(delay))
}

// HaltProspect is the inbound-reply hook: called when a reply arrives so
// pending follow-ups stop immediately rather than on the next tick
func (p *Processor) HaltProspect(prospectID uint) error {
	return p.haltFollowUps(prospectID)
}

func contextLocation(sc *models.CampaignSendingContext) *time.Location {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func startOfLocalDay(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

// withinWindow checks [start, end): a row due exactly at window end is
// skipped, one due exactly at window start is sent
func withinWindow(local time.Time, start, end string) bool {
	startMin, okS := parseClock(start)
	endMin, okE := parseClock(end)
	if !okS || !okE {
		return true // malformed window never blocks sending
	}
	nowMin := local.Hour()*60 + local.Minute()
	return nowMin >= startMin && nowMin < endMin
}

func parseClock(v string) (int, bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func textToHTML(body string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(body)
	return "<p>" + strings.ReplaceAll(escaped, "\n\n", "</p><p>") + "</p>"
}
