package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

type SMTPConfig struct {
	Server   string
	Port     string
	User     string
	Password string
	FromAddr string
	FromName string
	// To lists the operator addresses that receive critical alerts.
	To []string
}

func (c SMTPConfig) Validate() error {
	if c.Server == "" || c.Port == "" || c.User == "" || c.Password == "" || c.FromAddr == "" || len(c.To) == 0 {
		return core.Configurationf(
			"missing required SMTP settings: SMTP_SERVER=%q, SMTP_PORT=%q, SMTP_USER=%q, FROM_ADDR=%q, ALERT_EMAILS=%v",
			c.Server, c.Port, c.User, c.FromAddr, c.To)
	}
	return nil
}

// EmailNotifier mails critical alerts to the operators.
type EmailNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EmailNotifier{cfg: cfg, send: smtp.SendMail}, nil
}

func (e *EmailNotifier) Notify(_ context.Context, a db.Alert) error {
	if a.Severity != db.SeverityCritical {
		return nil
	}
	auth := smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Server)
	err := e.send(e.cfg.Server+":"+e.cfg.Port, auth, e.cfg.FromAddr, e.cfg.To, e.message(a))
	return errors.Annotate(err, "sending alert email")
}

func (e *EmailNotifier) message(a db.Alert) []byte {
	subject := fmt.Sprintf("[%s] %s", a.Severity, a.Subject)
	body := fmt.Sprintf("tenant: %s\nsource: %s\n\n%s\n", a.TenantID, a.Source, a.Message)
	return []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		e.cfg.FromName, e.cfg.FromAddr, strings.Join(e.cfg.To, ", "), subject, body))
}
