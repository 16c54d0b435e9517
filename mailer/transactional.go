package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"time"

	appconfig "coldreach/config"

	"gopkg.in/gomail.v2"
)

// TransactionalData describes one lifecycle/auth email
type TransactionalData struct {
	Subject   string
	To        []string
	Template  string
	Data      interface{}
	Year      int
	FromName  string
	FromEmail string
}

// Embedded email templates
var emailTemplates = map[string]string{
	"lifecycle": `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>{{.Heading}}</h2>
    </div>

    <div class="content">
        <p>Hi {{.Name}},</p>
        {{.BodyHTML}}
    </div>

    <div class="footer">
        <p>© {{.Year}} ColdReach. All rights reserved.</p>
    </div>
</body>
</html>`,

	"dunning": `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #c0392b; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .button { display: inline-block; padding: 10px 20px; background-color: #3498db; color: white; text-decoration: none; border-radius: 4px; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>{{.Heading}}</h2>
    </div>

    <div class="content">
        <p>Hi {{.Name}},</p>
        {{.BodyHTML}}
        <p><a class="button" href="{{.BillingURL}}">Update payment method</a></p>
    </div>

    <div class="footer">
        <p>© {{.Year}} ColdReach. All rights reserved.</p>
    </div>
</body>
</html>`,

	"report": `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .stat { font-size: 18px; font-weight: bold; color: #3498db; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>{{.Heading}}</h2>
    </div>

    <div class="content">
        <p>Hi {{.Name}},</p>
        {{.BodyHTML}}
    </div>

    <div class="footer">
        <p>© {{.Year}} ColdReach. All rights reserved.</p>
    </div>
</body>
</html>`,
}

// TransactionalMailer sends lifecycle/auth email over SMTP.
// This is separate from the cold providers on purpose: deliverability
// reputation for product email must never mix with outreach volume.
type TransactionalMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	logger    *log.Logger
	// DryRun logs instead of dialing; set in development and tests
	DryRun bool
}

// NewTransactionalMailer builds the SMTP mailer from config
func NewTransactionalMailer(cfg appconfig.Config, logger *log.Logger) *TransactionalMailer {
	if logger == nil {
		logger = log.Default()
	}
	return &TransactionalMailer{
		dialer:    gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		fromEmail: cfg.FromEmail,
		logger:    logger,
		DryRun:    cfg.SMTPUsername == "",
	}
}

// Send renders the named template and delivers it
func (tm *TransactionalMailer) Send(data TransactionalData) error {
	if data.FromEmail == "" {
		data.FromEmail = tm.fromEmail
	}
	if data.FromName == "" {
		data.FromName = "ColdReach"
	}
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}

	tmplContent, ok := emailTemplates[data.Template]
	if !ok {
		return fmt.Errorf("template '%s' not found", data.Template)
	}

	tmpl, err := template.New("email").Parse(tmplContent)
	if err != nil {
		return fmt.Errorf("error parsing template: %v", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data.Data); err != nil {
		return fmt.Errorf("error executing template: %v", err)
	}

	if tm.DryRun {
		tm.logger.Printf("📧 [DRY RUN] transactional to=%v subject=%q template=%s", data.To, data.Subject, data.Template)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", data.FromName, data.FromEmail))
	m.SetHeader("To", data.To...)
	m.SetHeader("Subject", data.Subject)
	m.SetBody("text/html", body.String())

	if err := tm.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("error sending email: %v", err)
	}
	return nil
}
