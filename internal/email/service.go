package email

import (
	"context"
	"fmt"
	"net/smtp"

	"tradebrain/internal/logging"
)

// Config holds SMTP configuration
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Service sends transactional mail over SMTP. When disabled it logs the
// message instead, which keeps local development working without a relay.
type Service struct {
	cfg    Config
	logger *logging.Logger
}

// NewService creates a new email service
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, logger: logging.WithComponent("email")}
}

// SendOTP mails a one-time code
func (s *Service) SendOTP(ctx context.Context, to, code, purpose string) error {
	subject := "Your verification code"
	if purpose == "reset" {
		subject = "Your password reset code"
	}
	body := fmt.Sprintf("Your code is %s. It expires in 10 minutes.\r\nIf you did not request this, ignore this email.", code)
	return s.send(ctx, to, subject, body)
}

func (s *Service) send(ctx context.Context, to, subject, body string) error {
	if !s.cfg.Enabled {
		s.logger.Info("Email delivery disabled, dropping message", "to", to, "subject", subject)
		return nil
	}

	msg := []byte(
		"From: " + s.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n" +
			"\r\n" +
			body + "\r\n",
	)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("SMTP error: %w", err)
		}
		s.logger.Info("Email sent", "to", to, "subject", subject)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
