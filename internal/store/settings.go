package store

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"accessportal/internal/models"
)

const settingsID = "singleton"

// GetSMTPSettings returns the singleton row; ok is false when none was saved.
func (s *Store) GetSMTPSettings(ctx context.Context) (models.SMTPSettings, bool, error) {
	var st models.SMTPSettings
	err := s.x.GetContext(ctx, &st,
		s.q(`SELECT smtp_host,smtp_port,smtp_user,smtp_pass_enc,smtp_secure,smtp_from,updated_at FROM app_settings WHERE id=?`),
		settingsID,
	)
	if errors.Is(mapErr(err), ErrNotFound) {
		return models.SMTPSettings{}, false, nil
	}
	if err != nil {
		return models.SMTPSettings{}, false, err
	}
	return st, true, nil
}

// SaveSMTPSettings upserts the singleton. A nil PasswordEnc keeps the stored one.
func (s *Store) SaveSMTPSettings(ctx context.Context, in models.SMTPSettings) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		var n int
		if err := tx.GetContext(ctx, &n, s.q(`SELECT COUNT(1) FROM app_settings WHERE id=?`), settingsID); err != nil {
			return err
		}
		if n == 0 {
			_, err := tx.ExecContext(ctx,
				s.q(`INSERT INTO app_settings(id,smtp_host,smtp_port,smtp_user,smtp_pass_enc,smtp_secure,smtp_from,updated_at) VALUES(?,?,?,?,?,?,?,?)`),
				settingsID, in.Host, in.Port, in.User, in.PasswordEnc, in.Secure, in.From, now,
			)
			return err
		}
		if in.PasswordEnc == nil {
			_, err := tx.ExecContext(ctx,
				s.q(`UPDATE app_settings SET smtp_host=?, smtp_port=?, smtp_user=?, smtp_secure=?, smtp_from=?, updated_at=? WHERE id=?`),
				in.Host, in.Port, in.User, in.Secure, in.From, now, settingsID,
			)
			return err
		}
		_, err := tx.ExecContext(ctx,
			s.q(`UPDATE app_settings SET smtp_host=?, smtp_port=?, smtp_user=?, smtp_pass_enc=?, smtp_secure=?, smtp_from=?, updated_at=? WHERE id=?`),
			in.Host, in.Port, in.User, in.PasswordEnc, in.Secure, in.From, now, settingsID,
		)
		return err
	})
}
