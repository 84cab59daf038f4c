package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"accessportal/internal/models"
	"accessportal/internal/util"
)

var ErrSMTPNotConfigured = errors.New("smtp transport is not configured")

const defaultDialTimeout = 10 * time.Second

// SettingsSource reads the admin-managed SMTP singleton.
type SettingsSource interface {
	GetSMTPSettings(ctx context.Context) (models.SMTPSettings, bool, error)
}

type secretOpener interface {
	Open(sealed string) (string, error)
}

func newSettingsBox(secret string) (*util.SecretBox, error) {
	return util.NewSecretBox(secret)
}

// SMTPDefaults come from the environment and apply when no settings row is
// saved.
type SMTPDefaults struct {
	Host string
	Port int
	From string
}

type transport struct {
	host   string
	port   int
	user   string
	pass   string
	secure bool
	from   string
}

type SMTPSender struct {
	defaults SMTPDefaults
	settings SettingsSource
	box      secretOpener
	log      logrus.FieldLogger
	now      func() time.Time
	send     func(ctx context.Context, t transport, to string, raw []byte) error
	probe    func(ctx context.Context, t transport) error
}

func NewSMTPSender(defaults SMTPDefaults, settings SettingsSource, box secretOpener, log logrus.FieldLogger) *SMTPSender {
	return &SMTPSender{
		defaults: defaults,
		settings: settings,
		box:      box,
		log:      log,
		now:      time.Now,
		send:     sendSMTP,
		probe:    probeSMTP,
	}
}

// Probe checks that the resolved relay accepts a connection and greets.
func (s *SMTPSender) Probe(ctx context.Context) error {
	t, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	return s.probe(ctx, t)
}

func (s *SMTPSender) SendInvite(ctx context.Context, toEmail, link string) error {
	t, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	raw, err := buildInviteMessage(t.from, toEmail, link, s.now())
	if err != nil {
		return err
	}
	if err := s.send(ctx, t, toEmail, raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", toEmail, err)
	}
	s.log.WithFields(logrus.Fields{"to": toEmail, "host": t.host}).Info("invite email sent")
	return nil
}

// resolve prefers the saved settings row over the environment defaults.
func (s *SMTPSender) resolve(ctx context.Context) (transport, error) {
	if s.settings != nil {
		st, ok, err := s.settings.GetSMTPSettings(ctx)
		if err != nil {
			return transport{}, fmt.Errorf("load smtp settings: %w", err)
		}
		if ok && st.Configured() {
			t := transport{host: *st.Host, from: *st.From, secure: st.Secure, port: 587}
			if st.Port != nil && *st.Port > 0 {
				t.port = *st.Port
			}
			if st.User != nil {
				t.user = *st.User
			}
			if st.PasswordEnc != nil && *st.PasswordEnc != "" {
				pass, err := s.box.Open(*st.PasswordEnc)
				if err != nil {
					return transport{}, fmt.Errorf("decrypt smtp password: %w", err)
				}
				t.pass = pass
			}
			return t, nil
		}
	}
	if s.defaults.Host == "" || s.defaults.From == "" {
		return transport{}, ErrSMTPNotConfigured
	}
	port := s.defaults.Port
	if port <= 0 {
		port = 587
	}
	return transport{host: s.defaults.Host, port: port, from: s.defaults.From}, nil
}

func buildInviteMessage(from, to, link string, at time.Time) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("parse recipient address: %w", err)
	}

	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(inviteSubject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(inviteBody(link))); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// dialSMTP connects with implicit TLS when secure is set and upgrades with
// STARTTLS otherwise when the server offers it.
func dialSMTP(ctx context.Context, t transport) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	tlsConfig := &tls.Config{ServerName: t.host}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if t.secure {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !t.secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

func probeSMTP(ctx context.Context, t transport) error {
	client, err := dialSMTP(ctx, t)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func sendSMTP(ctx context.Context, t transport, to string, raw []byte) error {
	client, err := dialSMTP(ctx, t)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.user != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", t.user, t.pass, t.host)); err != nil {
				return err
			}
		}
	}

	envelopeFrom := t.from
	if a, err := mail.ParseAddress(t.from); err == nil {
		envelopeFrom = a.Address
	}
	if err := client.Mail(envelopeFrom); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}
