package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"blogapi/common"
)

// ErrHeaderInjection is returned when a header value contains a line break.
var ErrHeaderInjection = errors.New("header values must not contain line breaks")

// Mailer delivers a plain text message.
type Mailer interface {
	Send(subject, body, from string, to []string) error
}

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService(cfg *common.Config) *EmailService {
	return &EmailService{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
	}
}

// Send uses from as the Reply-To so the relay account stays the envelope
// sender.
func (e *EmailService) Send(subject, body, from string, to []string) error {
	if e.host == "" {
		return errors.New("SMTP_HOST is not configured")
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	for _, header := range append([]string{subject, from, e.from}, to...) {
		if strings.ContainsAny(header, "\r\n") {
			return ErrHeaderInjection
		}
	}

	sender := e.from
	if sender == "" {
		sender = from
	}

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Reply-To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", sender, strings.Join(to, ", "), from, subject, body)

	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.password, e.host)
	}
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, sender, to, []byte(message)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
