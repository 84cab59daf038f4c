package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"accessportal/internal/apperr"
	"accessportal/internal/auth"
	"accessportal/internal/models"
	"accessportal/internal/notify"
	"accessportal/internal/store"
)

// ErrInvalidToken covers unknown, consumed and already completed tokens.
var ErrInvalidToken = errors.New("invalid or expired invite token")

const MinPasswordLength = 8

type Store interface {
	GetGroup(ctx context.Context, id string) (models.Group, error)
	UpsertInvite(ctx context.Context, email, groupID, token string) (models.User, error)
	GetUserByInviteToken(ctx context.Context, token string) (models.User, error)
	CompleteInvite(ctx context.Context, token, passwordHash string) (string, error)
}

type Invite struct {
	UserID         string `json:"userId"`
	ActivationLink string `json:"activationLink"`
}

type Manager struct {
	store   Store
	sender  notify.Sender
	baseURL string
	log     logrus.FieldLogger

	newToken func() (string, error)
	hash     func(string) (string, error)
}

func NewManager(st Store, sender notify.Sender, baseURL string, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:    st,
		sender:   sender,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
		newToken: auth.NewInviteToken,
		hash:     auth.HashPassword,
	}
}

// Issue creates or resets a pending invite for email in groupID. Delivery
// failures are logged and the link is still returned to the admin.
func (m *Manager) Issue(ctx context.Context, email, groupID string) (Invite, error) {
	email = strings.TrimSpace(email)
	groupID = strings.TrimSpace(groupID)
	if email == "" || groupID == "" {
		return Invite{}, apperr.Validation("Email and Group ID are required.")
	}
	if _, err := m.store.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Invite{}, apperr.NotFound("Group not found.")
		}
		return Invite{}, apperr.Internal(err)
	}
	token, err := m.newToken()
	if err != nil {
		return Invite{}, apperr.Internal(fmt.Errorf("generate invite token: %w", err))
	}
	u, err := m.store.UpsertInvite(ctx, email, groupID, token)
	if err != nil {
		return Invite{}, apperr.Internal(err)
	}

	link := m.ActivationLink(token)
	if m.sender != nil {
		if err := m.sender.SendInvite(ctx, u.Email, link); err != nil {
			m.log.WithError(err).WithField("to", u.Email).Warn("invite delivery failed")
		}
	}
	return Invite{UserID: u.ID, ActivationLink: link}, nil
}

func (m *Manager) ActivationLink(token string) string {
	return m.baseURL + "/invite/" + token
}

// Lookup returns the pending address bound to token.
func (m *Manager) Lookup(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	u, err := m.store.GetUserByInviteToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if u.InviteStatus == models.InviteCompleted {
		return "", ErrInvalidToken
	}
	return u.Email, nil
}

// Complete sets the password and activates the account. The token is
// consumed atomically, so a replay or a concurrent second completion fails
// with ErrInvalidToken.
func (m *Manager) Complete(ctx context.Context, token, password string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return "", apperr.Validation("Token and password are required")
	}
	if len(password) < MinPasswordLength {
		return "", apperr.Validation("Password must be at least 8 characters long")
	}
	hash, err := m.hash(password)
	if err != nil {
		return "", apperr.Internal(err)
	}
	userID, err := m.store.CompleteInvite(ctx, token, hash)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return userID, nil
}
