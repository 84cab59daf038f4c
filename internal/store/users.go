package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"accessportal/internal/models"
)

const userColumns = `id,email,password_hash,group_id,is_active,invite_status,invite_token,has_accepted_terms,accepted_terms_at,last_login_at,created_at,updated_at`

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.x.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE email=?`), normalizeEmail(email))
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.x.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) GetUserByInviteToken(ctx context.Context, token string) (models.User, error) {
	var u models.User
	err := s.x.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE invite_token=?`), token)
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

// CreateSSOUser provisions an active identity with no group and no password.
func (s *Store) CreateSSOUser(ctx context.Context, email string) (models.User, error) {
	now := s.now()
	u := models.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		IsActive:     true,
		InviteStatus: models.InviteCompleted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.x.ExecContext(ctx,
		s.q(`INSERT INTO users(id,email,password_hash,group_id,is_active,invite_status,invite_token,has_accepted_terms,created_at,updated_at) VALUES(?,?,NULL,NULL,?,?,NULL,?,?,?)`),
		u.ID, u.Email, u.IsActive, u.InviteStatus, false, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return u, nil
}

// UpsertInvite creates or resets the identity for email to PENDING with the
// given group and token. Existing password and active flag are left untouched.
func (s *Store) UpsertInvite(ctx context.Context, email, groupID, token string) (models.User, error) {
	email = normalizeEmail(email)
	var out models.User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		var id string
		err := tx.GetContext(ctx, &id, s.q(`SELECT id FROM users WHERE email=?`), email)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				s.q(`UPDATE users SET group_id=?, invite_token=?, invite_status=?, updated_at=? WHERE id=?`),
				groupID, token, models.InvitePending, now, id,
			); err != nil {
				return mapErr(err)
			}
		case errors.Is(mapErr(err), ErrNotFound):
			id = uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				s.q(`INSERT INTO users(id,email,password_hash,group_id,is_active,invite_status,invite_token,has_accepted_terms,created_at,updated_at) VALUES(?,?,NULL,?,?,?,?,?,?,?)`),
				id, email, groupID, false, models.InvitePending, token, false, now, now,
			); err != nil {
				return mapErr(err)
			}
		default:
			return err
		}
		return tx.GetContext(ctx, &out, s.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	})
	if err != nil {
		return models.User{}, mapErr(err)
	}
	return out, nil
}

// CompleteInvite consumes a pending invite token in one conditional update.
// A token that matches nothing, or an already completed identity, yields
// ErrNotFound so concurrent completions cannot both succeed.
func (s *Store) CompleteInvite(ctx context.Context, token, passwordHash string) (string, error) {
	var userID string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &userID, s.q(`SELECT id FROM users WHERE invite_token=? AND invite_status<>?`), token, models.InviteCompleted)
		if err != nil {
			return mapErr(err)
		}
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE users SET password_hash=?, is_active=?, invite_status=?, invite_token=NULL, updated_at=? WHERE invite_token=? AND invite_status<>?`),
			passwordHash, true, models.InviteCompleted, s.now(), token, models.InviteCompleted,
		)
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
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Store) TouchUserLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.x.ExecContext(ctx, s.q(`UPDATE users SET last_login_at=?, updated_at=? WHERE id=?`), at, s.now(), userID)
	return err
}

func (s *Store) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	res, err := s.x.ExecContext(ctx, s.q(`UPDATE users SET password_hash=?, updated_at=? WHERE id=?`), passwordHash, s.now(), userID)
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
}

func (s *Store) AcceptTerms(ctx context.Context, userID string, at time.Time) (models.User, error) {
	res, err := s.x.ExecContext(ctx,
		s.q(`UPDATE users SET has_accepted_terms=?, accepted_terms_at=?, updated_at=? WHERE id=?`),
		true, at, s.now(), userID,
	)
	if err != nil {
		return models.User{}, err
	}
	n, err := affected(res)
	if err != nil {
		return models.User{}, err
	}
	if n == 0 {
		return models.User{}, ErrNotFound
	}
	return s.GetUserByID(ctx, userID)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.UserWithGroup, error) {
	var users []models.User
	if err := s.x.SelectContext(ctx, &users, s.q(`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)); err != nil {
		return nil, err
	}
	var groups []models.Group
	if err := s.x.SelectContext(ctx, &groups, s.q(`SELECT id,name,is_admin,created_at FROM role_groups`)); err != nil {
		return nil, err
	}
	byID := make(map[string]models.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	out := make([]models.UserWithGroup, 0, len(users))
	for _, u := range users {
		row := models.UserWithGroup{User: u}
		if u.GroupID != nil {
			if g, ok := byID[*u.GroupID]; ok {
				gc := g
				row.Group = &gc
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.x.ExecContext(ctx, s.q(`DELETE FROM users WHERE id=?`), userID)
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
}

// EnsureAdmin creates or refreshes the bootstrap administrator. An existing
// account keeps its password unless resetPassword is set.
func (s *Store) EnsureAdmin(ctx context.Context, email, passwordHash, adminGroupID string, resetPassword bool) error {
	email = normalizeEmail(email)
	if email == "" || passwordHash == "" {
		return nil
	}
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		now := s.now()
		_, err = s.x.ExecContext(ctx,
			s.q(`INSERT INTO users(id,email,password_hash,group_id,is_active,invite_status,invite_token,has_accepted_terms,created_at,updated_at) VALUES(?,?,?,?,?,?,NULL,?,?,?)`),
			uuid.NewString(), email, passwordHash, adminGroupID, true, models.InviteCompleted, false, now, now,
		)
		return mapErr(err)
	}
	if err != nil {
		return err
	}
	if resetPassword {
		_, err = s.x.ExecContext(ctx,
			s.q(`UPDATE users SET group_id=?, is_active=?, invite_status=?, invite_token=NULL, password_hash=?, updated_at=? WHERE id=?`),
			adminGroupID, true, models.InviteCompleted, passwordHash, s.now(), u.ID,
		)
		return err
	}
	_, err = s.x.ExecContext(ctx,
		s.q(`UPDATE users SET group_id=?, is_active=?, updated_at=? WHERE id=?`),
		adminGroupID, true, s.now(), u.ID,
	)
	return err
}
