// Package mailer sends operational notifications, currently only
// out-of-stock alerts to the stock admin.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"
)

// Mailer sends a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTP sends mail through a plain smtp relay.
type SMTP struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if m.Host == "" {
		return fmt.Errorf("mail host not configured")
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.From, to, subject, body))
	addr := m.Host + ":" + m.Port
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.From, []string{to}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Log writes notifications to the service log. Used when no mail host
// is configured, and as the default in tests.
type Log struct {
	Logger *logrus.Logger
}

func (m *Log) Send(_ context.Context, to, subject, body string) error {
	m.Logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info(body)
	return nil
}

// FromConfig picks an implementation based on whether a mail host was
// configured.
func FromConfig(host, port, from, username, password string, logger *logrus.Logger) Mailer {
	if host == "" {
		return &Log{Logger: logger}
	}
	if port == "" {
		port = "25"
	}
	return &SMTP{Host: host, Port: port, From: from, Username: username, Password: password}
}
