package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/payout-service/payout_service/internal/infrastructure/config"
)

// AlertService emails operators when settlement needs manual attention
type AlertService struct {
	client    *sendgrid.Client
	from      *mail.Email
	recipient string
	logger    *zap.Logger
}

// NewAlertService creates a SendGrid-backed alert sender. Returns nil when no
// API key or recipient is configured; callers treat a nil sender as disabled.
func NewAlertService(emailCfg config.EmailConfig, recipient string, logger *zap.Logger) *AlertService {
	if emailCfg.SendGridAPIKey == "" || recipient == "" {
		logger.Warn("operator alerts disabled, no SendGrid key or recipient configured")
		return nil
	}
	return &AlertService{
		client:    sendgrid.NewSendClient(emailCfg.SendGridAPIKey),
		from:      mail.NewEmail(emailCfg.FromName, emailCfg.FromEmail),
		recipient: recipient,
		logger:    logger,
	}
}

// SendAlert sends one alert email with the given subject and detail lines
func (s *AlertService) SendAlert(ctx context.Context, subject string, lines []string) error {
	to := mail.NewEmail("", s.recipient)
	body := strings.Join(lines, "\n")

	message := mail.NewSingleEmail(s.from, subject, to, body, "<pre>"+body+"</pre>")
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Info("Operator alert sent",
		zap.String("subject", subject),
		zap.Int("lines", len(lines)))
	return nil
}
