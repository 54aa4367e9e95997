package email

import (
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ErrDeliveryDisabled is returned by senders that intentionally do not deliver.
var ErrDeliveryDisabled = errors.New("email delivery disabled")

type Service interface {
	SendEmail(to, subject, body string) error
}

type ResendService struct {
	from   string
	client *resend.Client
	logger *zap.Logger
}

func NewResendService(apiKey, from string, logger *zap.Logger) (*ResendService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("from email address is required")
	}

	return &ResendService{
		from:   from,
		client: resend.NewClient(apiKey),
		logger: logger,
	}, nil
}

func (s *ResendService) SendEmail(to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Html:    body,
		Subject: subject,
	}

	sent, err := s.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}

	s.logger.Info("email sent", zap.String("provider", "resend"), zap.String("to", to), zap.String("message_id", sent.Id))
	return nil
}

// LogService records what would have been sent and reports ErrDeliveryDisabled.
type LogService struct {
	logger *zap.Logger
}

func NewLogService(logger *zap.Logger) *LogService {
	return &LogService{logger: logger}
}

func (s *LogService) SendEmail(to, subject, _ string) error {
	s.logger.Info("email delivery disabled, message dropped", zap.String("to", to), zap.String("subject", subject))
	return ErrDeliveryDisabled
}
