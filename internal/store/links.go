package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"accessportal/internal/models"
)

const linkColumns = `id,name,url,open_in_new_tab,created_at`

func (s *Store) ListLinks(ctx context.Context) ([]models.Link, error) {
	out := []models.Link{}
	if err := s.x.SelectContext(ctx, &out, s.q(`SELECT `+linkColumns+` FROM links ORDER BY created_at DESC`)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetLink(ctx context.Context, id string) (models.Link, error) {
	var l models.Link
	if err := s.x.GetContext(ctx, &l, s.q(`SELECT `+linkColumns+` FROM links WHERE id=?`), id); err != nil {
		return models.Link{}, mapErr(err)
	}
	return l, nil
}

// ListLinksForGroup returns the links granted to a group through group_links.
func (s *Store) ListLinksForGroup(ctx context.Context, groupID string) ([]models.Link, error) {
	out := []models.Link{}
	err := s.x.SelectContext(ctx, &out, s.q(`
SELECT l.id, l.name, l.url, l.open_in_new_tab, l.created_at
FROM links l
JOIN group_links gl ON gl.link_id = l.id
WHERE gl.group_id = ?
ORDER BY l.name ASC`), groupID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LinkIDsForGroup(ctx context.Context, groupID string) ([]string, error) {
	out := []string{}
	if err := s.x.SelectContext(ctx, &out, s.q(`SELECT link_id FROM group_links WHERE group_id=? ORDER BY link_id`), groupID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateLink(ctx context.Context, name, url string, openInNewTab bool) (models.Link, error) {
	l := models.Link{ID: uuid.NewString(), Name: strings.TrimSpace(name), URL: url, OpenInNewTab: openInNewTab, CreatedAt: s.now()}
	_, err := s.x.ExecContext(ctx,
		s.q(`INSERT INTO links(id,name,url,open_in_new_tab,created_at) VALUES(?,?,?,?,?)`),
		l.ID, l.Name, l.URL, l.OpenInNewTab, l.CreatedAt,
	)
	if err != nil {
		return models.Link{}, mapErr(err)
	}
	return l, nil
}

func (s *Store) UpdateLink(ctx context.Context, id, name, url string, openInNewTab bool) (models.Link, error) {
	res, err := s.x.ExecContext(ctx,
		s.q(`UPDATE links SET name=?, url=?, open_in_new_tab=? WHERE id=?`),
		strings.TrimSpace(name), url, openInNewTab, id,
	)
	if err != nil {
		return models.Link{}, mapErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return models.Link{}, err
	}
	if n == 0 {
		return models.Link{}, ErrNotFound
	}
	return s.GetLink(ctx, id)
}

// DeleteLink removes every grant for the link before the link itself.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM group_links WHERE link_id=?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM links WHERE id=?`), id)
		if err != nil {
			return err
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplaceGroupLinks swaps the group's grant set for linkIDs.
func (s *Store) ReplaceGroupLinks(ctx context.Context, groupID string, linkIDs []string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(1) FROM role_groups WHERE id=?`), groupID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM group_links WHERE group_id=?`), groupID); err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(linkIDs))
		for _, linkID := range linkIDs {
			linkID = strings.TrimSpace(linkID)
			if linkID == "" {
				continue
			}
			if _, dup := seen[linkID]; dup {
				continue
			}
			seen[linkID] = struct{}{}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO group_links(group_id,link_id) VALUES(?,?)`), groupID, linkID); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}
