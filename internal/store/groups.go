package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"accessportal/internal/models"
)

const groupColumns = `id,name,is_admin,created_at`

// EnsureAdminGroup returns the administrator group, creating it on first start
// and promoting a legacy row that only carries the reserved name.
func (s *Store) EnsureAdminGroup(ctx context.Context) (models.Group, error) {
	var g models.Group
	err := s.x.GetContext(ctx, &g,
		s.q(`SELECT `+groupColumns+` FROM role_groups WHERE is_admin=? OR name=? ORDER BY is_admin DESC, created_at ASC LIMIT 1`),
		true, models.AdminGroupName,
	)
	switch {
	case err == nil:
		if !g.IsAdmin {
			if _, err := s.x.ExecContext(ctx, s.q(`UPDATE role_groups SET is_admin=? WHERE id=?`), true, g.ID); err != nil {
				return models.Group{}, err
			}
			g.IsAdmin = true
		}
		return g, nil
	case errors.Is(mapErr(err), ErrNotFound):
		g = models.Group{ID: uuid.NewString(), Name: models.AdminGroupName, IsAdmin: true, CreatedAt: s.now()}
		if _, err := s.x.ExecContext(ctx,
			s.q(`INSERT INTO role_groups(id,name,is_admin,created_at) VALUES(?,?,?,?)`),
			g.ID, g.Name, g.IsAdmin, g.CreatedAt,
		); err != nil {
			return models.Group{}, mapErr(err)
		}
		return g, nil
	default:
		return models.Group{}, err
	}
}

func (s *Store) GetGroup(ctx context.Context, id string) (models.Group, error) {
	var g models.Group
	if err := s.x.GetContext(ctx, &g, s.q(`SELECT `+groupColumns+` FROM role_groups WHERE id=?`), id); err != nil {
		return models.Group{}, mapErr(err)
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]models.GroupSummary, error) {
	out := []models.GroupSummary{}
	err := s.x.SelectContext(ctx, &out, s.q(`
SELECT g.id, g.name, g.is_admin, g.created_at,
  (SELECT COUNT(1) FROM users u WHERE u.group_id = g.id) AS user_count,
  (SELECT COUNT(1) FROM group_links gl WHERE gl.group_id = g.id) AS link_count
FROM role_groups g
ORDER BY g.created_at ASC`))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	g := models.Group{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: s.now()}
	if err := s.checkReservedName(ctx, g.Name, ""); err != nil {
		return models.Group{}, err
	}
	_, err := s.x.ExecContext(ctx,
		s.q(`INSERT INTO role_groups(id,name,is_admin,created_at) VALUES(?,?,?,?)`),
		g.ID, g.Name, false, g.CreatedAt,
	)
	if err != nil {
		return models.Group{}, mapErr(err)
	}
	return g, nil
}

func (s *Store) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if err := s.checkReservedName(ctx, name, id); err != nil {
		return models.Group{}, err
	}
	res, err := s.x.ExecContext(ctx, s.q(`UPDATE role_groups SET name=? WHERE id=?`), name, id)
	if err != nil {
		return models.Group{}, mapErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return models.Group{}, err
	}
	if n == 0 {
		return models.Group{}, ErrNotFound
	}
	return s.GetGroup(ctx, id)
}

// checkReservedName refuses the administrator name for any group other than
// the flagged administrator group, which exceptID may name.
func (s *Store) checkReservedName(ctx context.Context, name, exceptID string) error {
	if !strings.EqualFold(name, models.AdminGroupName) {
		return nil
	}
	var n int
	if err := s.x.GetContext(ctx, &n,
		s.q(`SELECT COUNT(1) FROM role_groups WHERE is_admin=? AND id<>?`), true, exceptID,
	); err != nil {
		return err
	}
	if n > 0 {
		return ErrReservedName
	}
	return nil
}

// DeleteGroup refuses the administrator group and any group with members.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var g models.Group
		if err := tx.GetContext(ctx, &g, s.q(`SELECT `+groupColumns+` FROM role_groups WHERE id=?`), id); err != nil {
			return mapErr(err)
		}
		if g.Admin() {
			return ErrProtectedGroup
		}
		var members int
		if err := tx.GetContext(ctx, &members, s.q(`SELECT COUNT(1) FROM users WHERE group_id=?`), id); err != nil {
			return err
		}
		if members > 0 {
			return ErrGroupInUse
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM group_links WHERE group_id=?`), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`DELETE FROM role_groups WHERE id=?`), id)
		return err
	})
}
