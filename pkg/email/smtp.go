package email

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPService struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	logger *zap.Logger
}

func NewSMTPService(cfg SMTPConfig, logger *zap.Logger) (*SMTPService, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is not configured")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("SMTP port is not configured")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email from address is not configured")
	}

	return &SMTPService{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}, nil
}

func (s *SMTPService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email via smtp %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	s.logger.Info("email sent", zap.String("provider", "smtp"), zap.String("to", to))
	return nil
}
