package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	appconfig "coldreach/config"
	"coldreach/models"
	"coldreach/sendqueue"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"gorm.io/gorm"
)

// ReplyWorker polls the shared reply inbox over IMAP and records inbound
// prospect replies. Providers that push webhooks skip this path; the
// poller covers plain mailboxes.
type ReplyWorker struct {
	db     *gorm.DB
	queue  *sendqueue.Processor
	imap   appconfig.IMAPConfig
	logger *log.Logger
}

func NewReplyWorker(db *gorm.DB, queue *sendqueue.Processor, imapCfg appconfig.IMAPConfig, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		db:     db,
		queue:  queue,
		imap:   imapCfg,
		logger: logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	if rw.imap.Host == "" {
		rw.logger.Println("Reply worker disabled: no IMAP host configured")
		return
	}

	rw.logger.Println("Starting reply worker...")
	ticker := time.NewTicker(5 * time.Minute)

	for {
		select {
		case <-ticker.C:
			if err := rw.fetchReplies(); err != nil {
				rw.logger.Printf("⚠️ Reply fetch failed: %v", err)
			}
		case <-ctx.Done():
			rw.logger.Println("Stopping reply worker...")
			ticker.Stop()
			return
		}
	}
}

func (rw *ReplyWorker) fetchReplies() error {
	imapAddr := fmt.Sprintf("%s:%d", rw.imap.Host, rw.imap.Port)

	imapClient, err := client.DialTLS(imapAddr, &tls.Config{
		ServerName: rw.imap.Host,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(rw.imap.Username, rw.imap.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	processed := 0
	for msg := range messages {
		if err := rw.processMessage(msg); err != nil {
			rw.logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
		processed++
	}
	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}

	if processed > 0 {
		rw.logger.Printf("📧 Processed %d inbound messages", processed)
	}
	return nil
}

func (rw *ReplyWorker) processMessage(msg *imap.Message) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return fmt.Errorf("message has no envelope")
	}

	fromAddr := msg.Envelope.From[0]
	fromEmail := strings.ToLower(fmt.Sprintf("%s@%s", fromAddr.MailboxName, fromAddr.HostName))

	// Idempotency on the message id, shared with the webhook path
	messageID := msg.Envelope.MessageId
	if messageID == "" {
		messageID = fmt.Sprintf("imap-%s-%d", fromEmail, msg.Envelope.Date.Unix())
	}
	var seen int64
	if err := rw.db.Model(&models.ProspectReply{}).
		Where("provider_message_id = ?", messageID).
		Count(&seen).Error; err != nil {
		return err
	}
	if seen > 0 {
		return nil
	}

	// Only mail from known prospects becomes a reply
	var prospect models.Prospect
	err := rw.db.
		Where("email = ? AND status IN ?", fromEmail,
			[]string{models.ProspectSent, models.ProspectReplied}).
		Order("updated_at desc").
		First(&prospect).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	bodyText := rw.extractBody(msg)

	reply := models.ProspectReply{
		ProspectID:        prospect.ID,
		CampaignID:        prospect.CampaignID,
		UserID:            prospect.UserID,
		FromEmail:         fromEmail,
		Subject:           msg.Envelope.Subject,
		Body:              bodyText,
		ReceivedAt:        msg.Envelope.Date,
		ProviderMessageID: messageID,
	}

	err = rw.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&reply).Error; err != nil {
			return err
		}
		return tx.Model(&models.Prospect{}).
			Where("id = ? AND status <> ?", prospect.ID, models.ProspectReplied).
			Update("status", models.ProspectReplied).Error
	})
	if err != nil {
		return err
	}

	if err := rw.queue.HaltProspect(prospect.ID); err != nil {
		rw.logger.Printf("⚠️ Failed to halt follow-ups for prospect %d: %v", prospect.ID, err)
	}
	return nil
}

// extractBody pulls the text/plain part, falling back to text/html
func (rw *ReplyWorker) extractBody(msg *imap.Message) string {
	if msg.Body == nil {
		return ""
	}
	section := imap.BodySectionName{}
	literal, ok := msg.Body[&section]
	if !ok {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	var bodyText, bodyHTML string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			if strings.Contains(contentType, "text/plain") {
				bodyText = string(b)
			} else if strings.Contains(contentType, "text/html") {
				bodyHTML = string(b)
			}
		}
	}
	if bodyText != "" {
		return bodyText
	}
	return bodyHTML
}
