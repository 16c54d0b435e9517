package mailer

import (
	"context"
	"fmt"
	"log"

	"coldreach/config"

	"github.com/google/uuid"
)

// ColdEmail is one outbound cold message
type ColdEmail struct {
	To       string            `json:"to"`
	ToName   string            `json:"to_name"`
	From     string            `json:"from"`
	FromName string            `json:"from_name"`
	ReplyTo  string            `json:"reply_to"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"` // campaign/prospect/email ids
}

// SendResult is the provider outcome of one send
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// ColdSender is the pluggable cold outbound provider
type ColdSender interface {
	Send(ctx context.Context, email ColdEmail) (*SendResult, error)
	Name() string
}

// NewColdSender builds the provider configured via COLD_MAIL_PROVIDER.
// An unset provider returns the simulated sender used in development.
func NewColdSender(cfg config.Config, logger *log.Logger) (ColdSender, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch cfg.ColdMailProvider {
	case "ses":
		return NewSESSender(cfg, logger)
	case "mailgun":
		return NewMailgunSender(cfg, logger), nil
	case "":
		return &SimulatedSender{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown cold mail provider %q", cfg.ColdMailProvider)
	}
}

// SimulatedSender pretends every send succeeded. Development only.
type SimulatedSender struct {
	logger *log.Logger
}

func (s *SimulatedSender) Name() string { return "simulated" }

func (s *SimulatedSender) Send(_ context.Context, email ColdEmail) (*SendResult, error) {
	id := "sim-" + uuid.NewString()
	s.logger.Printf("📧 [SIMULATED] to=%s subject=%q message_id=%s", email.To, email.Subject, id)
	return &SendResult{Success: true, MessageID: id}, nil
}
