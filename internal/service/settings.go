package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"accessportal/internal/apperr"
	"accessportal/internal/models"
)

// SMTPSettingsInput is the admin form payload.
type SMTPSettingsInput struct {
	Host     string    `json:"smtpHost"`
	Port     PortValue `json:"smtpPort"`
	User     string    `json:"smtpUser"`
	Password string    `json:"smtpPass"`
	Secure   bool      `json:"smtpSecure"`
	From     string    `json:"smtpFrom"`
}

// PortValue accepts a port sent as a JSON number, a string, or null.
type PortValue string

func (p *PortValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*p = PortValue(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = PortValue(n.String())
	return nil
}

// GetSMTPSettings returns the stored settings without the password; ok is
// false when nothing was saved yet.
func (s *Service) GetSMTPSettings(ctx context.Context) (models.SMTPSettings, bool, error) {
	st, ok, err := s.st.GetSMTPSettings(ctx)
	if err != nil {
		return models.SMTPSettings{}, false, apperr.Internal(err)
	}
	st.PasswordEnc = nil
	return st, ok, nil
}

// SaveSMTPSettings seals a new password before storing it. A blank password
// keeps the stored one.
func (s *Service) SaveSMTPSettings(ctx context.Context, in SMTPSettingsInput) error {
	out := models.SMTPSettings{
		Host:   optional(in.Host),
		User:   optional(in.User),
		From:   optional(in.From),
		Secure: in.Secure,
	}
	if p := strings.TrimSpace(string(in.Port)); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return apperr.Validation("SMTP port must be a number between 1 and 65535.")
		}
		out.Port = &n
	}
	if in.Password != "" {
		sealed, err := s.secrets.Seal(in.Password)
		if err != nil {
			return apperr.Internal(err)
		}
		out.PasswordEnc = &sealed
	}
	if err := s.st.SaveSMTPSettings(ctx, out); err != nil {
		return apperr.Internal(err)
	}
	s.log.WithField("host", in.Host).Info("smtp settings updated")
	return nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
