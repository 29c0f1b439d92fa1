package server

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// EmailConfig holds configuration for sending mail via SMTP.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	Enabled      bool
}

// EmailService sends plain-text mail. When disabled it logs instead of
// sending, which keeps development setups working without an SMTP server.
type EmailService struct {
	config EmailConfig
}

func NewEmailService(cfg EmailConfig) *EmailService {
	return &EmailService{config: cfg}
}

// SendEmail sends one message to a single recipient.
func (s *EmailService) SendEmail(to, subject, body string) error {
	if !s.config.Enabled {
		log.Printf("service=email msg=%q to=%s subject=%q", "disabled_skipping_send", to, subject)
		return nil
	}
	if s.config.SMTPHost == "" {
		return fmt.Errorf("smtp host not configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.FromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := s.config.SMTPHost + ":" + s.config.SMTPPort
	auth := smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPassword, s.config.SMTPHost)
	if err := smtp.SendMail(addr, auth, s.config.FromEmail, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
