package services

import (
	"fmt"
	"net/smtp"

	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/logger"
)

type smtpEmailService struct{}

// NewEmailService returns the SMTP-backed mail sender. When SMTP is not
// configured it logs the message instead of sending, so local development
// works without a mail server.
func NewEmailService() EmailService {
	return &smtpEmailService{}
}

func (s *smtpEmailService) Send(toEmail, subject, body string) error {
	cfg := config.Cfg
	if cfg.SMTPServer == "" || cfg.SMTPUser == "" {
		logger.L.Info("SMTP not configured, logging email instead of sending",
			"to", toEmail, "subject", subject)
		return nil
	}

	auth := smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPServer)

	message := fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", cfg.SenderName, cfg.SenderEmail, toEmail, subject, body)

	addr := fmt.Sprintf("%s:%d", cfg.SMTPServer, cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, cfg.SenderEmail, []string{toEmail}, []byte(message)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", toEmail, err)
	}
	return nil
}

func (s *smtpEmailService) SendVerificationEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", config.Cfg.VerificationEmailBaseURL, token)
	body := fmt.Sprintf("Hi %s,\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nThe link expires in %s.\n",
		username, link, config.Cfg.VerificationTokenExpiry)
	return s.Send(toEmail, "Confirm your email address", body)
}

func (s *smtpEmailService) SendPasswordResetEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", config.Cfg.PasswordResetBaseURL, token)
	body := fmt.Sprintf("Hi %s,\n\nA password reset was requested for your account. Open the link below to choose a new password:\n\n%s\n\nIf you did not request this, you can ignore this message.\n",
		username, link)
	return s.Send(toEmail, "Reset your password", body)
}
