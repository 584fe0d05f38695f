package notifications

import (
	"context"
	"errors"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/localpros/localpros-backend/pkg/config"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to string, msg Message) error
}

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends multipart (plain + HTML) mail over SMTP.
type SMTPMailer struct {
	dialer   smtpDialer
	from     string
	fromName string
}

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.FromAddress) == "" {
		return nil, errors.New("smtp from address is required")
	}
	return &SMTPMailer{
		dialer:   gomail.NewDialer(host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.from, m.fromName)
	gm.SetHeader("To", to)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		gm.AddAlternative("text/html", msg.HTML)
	}
	return m.dialer.DialAndSend(gm)
}
