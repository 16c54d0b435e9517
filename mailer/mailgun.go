package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	appconfig "coldreach/config"

	"github.com/valyala/fasthttp"
)

const mailgunCallTimeout = 15 * time.Second

// MailgunSender delivers cold email through a Mailgun-style HTTPS API
type MailgunSender struct {
	client  *fasthttp.Client
	baseURL string
	domain  string
	apiKey  string
	from    string
	logger  *log.Logger
}

// NewMailgunSender builds a Mailgun-style sender from COLD_MAIL_* config
func NewMailgunSender(cfg appconfig.Config, logger *log.Logger) *MailgunSender {
	return &MailgunSender{
		client: &fasthttp.Client{
			ReadTimeout:  mailgunCallTimeout,
			WriteTimeout: mailgunCallTimeout,
		},
		baseURL: "https://api.mailgun.net",
		domain:  cfg.ColdMailDomain,
		apiKey:  cfg.ColdMailAPIKey,
		from:    cfg.ColdMailFrom,
		logger:  logger,
	}
}

func (m *MailgunSender) Name() string { return "mailgun" }

func (m *MailgunSender) Send(ctx context.Context, email ColdEmail) (*SendResult, error) {
	from := email.From
	if from == "" {
		from = m.from
	}
	if email.FromName != "" {
		from = fmt.Sprintf("%s <%s>", email.FromName, email.From)
	}

	form := url.Values{}
	form.Set("from", from)
	form.Set("to", email.To)
	form.Set("subject", email.Subject)
	form.Set("html", email.HTML)
	form.Set("text", email.Text)
	if email.ReplyTo != "" {
		form.Set("h:Reply-To", email.ReplyTo)
	}
	for k, v := range email.Metadata {
		form.Set("v:"+k, v)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/v3/%s/messages", m.baseURL, m.domain))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicAuth("api", m.apiKey))
	req.SetBodyString(form.Encode())

	deadline := time.Now().Add(mailgunCallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := m.client.DoDeadline(req, resp, deadline); err != nil {
		m.logger.Printf("Mailgun send failed for %s: %v", email.To, err)
		return &SendResult{Success: false, Error: err.Error()}, nil
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		errMsg := fmt.Sprintf("mailgun returned status %d", resp.StatusCode())
		m.logger.Printf("Mailgun send failed for %s: %s", email.To, errMsg)
		return &SendResult{Success: false, Error: errMsg}, nil
	}

	var body struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		// Accepted but unparseable response body; treat the send as delivered
		m.logger.Printf("Mailgun response parse failed for %s: %v", email.To, err)
	}

	return &SendResult{Success: true, MessageID: body.ID}, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
