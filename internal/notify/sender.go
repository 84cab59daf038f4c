package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"accessportal/internal/config"
)

// Sender delivers an activation link to an invited address.
type Sender interface {
	SendInvite(ctx context.Context, toEmail, link string) error
}

// LogSender writes the link to the server log. It is the default when no
// transport is configured.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) LogSender {
	return LogSender{log: log}
}

func (s LogSender) SendInvite(_ context.Context, toEmail, link string) error {
	s.log.WithFields(logrus.Fields{"to": toEmail, "link": link}).Info("invite link generated")
	return nil
}

// NewSender picks the delivery transport from INVITE_SENDER.
func NewSender(ctx context.Context, cfg config.Config, settings SettingsSource, log logrus.FieldLogger) (Sender, error) {
	switch cfg.InviteSender {
	case "smtp":
		box, err := newSettingsBox(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		return NewSMTPSender(SMTPDefaults{Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: cfg.InviteFrom}, settings, box, log), nil
	case "ses":
		s, err := NewSESSender(ctx, cfg.AWSRegion, cfg.InviteFrom)
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		return s, nil
	default:
		return NewLogSender(log), nil
	}
}

const inviteSubject = "You have been invited to the access portal"

func inviteBody(link string) string {
	return "You have been invited to the internal access portal.\r\n\r\n" +
		"Open this link to set your password and activate your account:\r\n" +
		link + "\r\n"
}
