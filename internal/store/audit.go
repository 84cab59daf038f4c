package store

import (
	"context"
	"time"

	"accessportal/internal/models"
)

func (s *Store) InsertAuditLog(ctx context.Context, e models.AuditLog) error {
	_, err := s.x.ExecContext(ctx,
		s.q(`INSERT INTO audit_logs(id,event_type,ip_address,email_attempt,created_at) VALUES(?,?,?,?,?)`),
		e.ID, e.EventType, e.IPAddress, e.EmailAttempt, e.CreatedAt,
	)
	return err
}

// ListAuditLogs returns the newest entries first.
func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out := []models.AuditLog{}
	err := s.x.SelectContext(ctx, &out,
		s.q(`SELECT id,event_type,ip_address,email_attempt,created_at FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.x.ExecContext(ctx, s.q(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
