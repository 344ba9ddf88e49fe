package notifier

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/gdugdh24/gowith-backend/internal/config"
	"gopkg.in/gomail.v2"
)

type SMTPSender struct {
	from     string
	fromName string
	dialer   *gomail.Dialer
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	fromName := cfg.FromName
	if fromName == "" {
		fromName = "GoWith"
	}
	return &SMTPSender{from: cfg.From, fromName: fromName, dialer: dialer}
}

func (s *SMTPSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := s.message(n)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", n.Recipient, err)
	}
	return nil
}

func (s *SMTPSender) message(n Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/plain", n.Body)
	return m
}
