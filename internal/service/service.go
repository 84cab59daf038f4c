package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"accessportal/internal/access"
	"accessportal/internal/apperr"
	"accessportal/internal/audit"
	"accessportal/internal/auth"
	"accessportal/internal/config"
	"accessportal/internal/invite"
	"accessportal/internal/maintenance"
	"accessportal/internal/metrics"
	"accessportal/internal/models"
	"accessportal/internal/store"
	"accessportal/internal/util"
)

const invalidCredentials = "Invalid credentials or inactive account."

type Deps struct {
	Config  config.Config
	Store   *store.Store
	Tokens  *auth.TokenService
	Access  *access.Resolver
	Invites *invite.Manager
	Audit   audit.Recorder
	Pruner  *maintenance.Pruner
	Secrets *util.SecretBox
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

type Service struct {
	cfg     config.Config
	st      *store.Store
	tokens  *auth.TokenService
	access  *access.Resolver
	invites *invite.Manager
	audit   audit.Recorder
	pruner  *maintenance.Pruner
	secrets *util.SecretBox
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func New(d Deps) *Service {
	return &Service{
		cfg:     d.Config,
		st:      d.Store,
		tokens:  d.Tokens,
		access:  d.Access,
		invites: d.Invites,
		audit:   d.Audit,
		pruner:  d.Pruner,
		secrets: d.Secrets,
		log:     d.Log,
		metrics: d.Metrics,
		now:     time.Now,
	}
}

func (s *Service) Tokens() *auth.TokenService { return s.tokens }

func (s *Service) Ping(ctx context.Context) error { return s.st.Ping(ctx) }

// Bootstrap seeds the administrator group and, when a password is
// configured, the bootstrap administrator.
func (s *Service) Bootstrap(ctx context.Context) error {
	g, err := s.st.EnsureAdminGroup(ctx)
	if err != nil {
		return err
	}
	if s.cfg.BootstrapAdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(s.cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	if err := s.st.EnsureAdmin(ctx, s.cfg.BootstrapAdminEmail, hash, g.ID, s.cfg.BootstrapAdminReset); err != nil {
		return err
	}
	s.log.WithField("email", s.cfg.BootstrapAdminEmail).Info("bootstrap administrator ensured")
	return nil
}

// Login verifies a password credential and issues a session token. Every
// failure mode returns the same message so accounts cannot be enumerated.
func (s *Service) Login(ctx context.Context, email, password, ip string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", apperr.Validation("Email and password are required.")
	}

	u, err := s.st.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", apperr.Internal(err)
	}
	if err != nil || !u.HasPassword() || !u.IsActive {
		s.burnHash(password)
		return "", s.loginFailed(ctx, email, ip)
	}
	if !auth.VerifyPassword(*u.PasswordHash, password) {
		return "", s.loginFailed(ctx, email, ip)
	}

	isAdmin, err := s.access.IsAdmin(ctx, u.ID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	token, err := s.tokens.Issue(auth.Identity{UserID: u.ID, Email: u.Email, GroupID: u.GroupID, IsAdmin: isAdmin})
	if err != nil {
		return "", apperr.Internal(err)
	}
	if err := s.st.TouchUserLastLogin(ctx, u.ID, s.now().UTC()); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("update last login failed")
	}
	s.audit.Record(ctx, audit.Event{Type: models.EventLoginSuccess, IP: ip, Email: email})
	s.metrics.LoginAttempt("password", "success")
	return token, nil
}

func (s *Service) loginFailed(ctx context.Context, email, ip string) error {
	s.audit.Record(ctx, audit.Event{Type: models.EventLoginFailed, IP: ip, Email: email})
	s.metrics.LoginAttempt("password", "failure")
	return apperr.Authentication(invalidCredentials)
}

// burnHash spends one bcrypt comparison so unknown accounts take as long to
// reject as known ones.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		h, err := auth.HashPassword("accessportal-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_ = auth.VerifyPassword(s.dummyHash, password)
	}
}

// Logout records LOGOUT when token is still valid.
func (s *Service) Logout(ctx context.Context, token, ip string) {
	if token == "" {
		return
	}
	claims, ok := s.tokens.Verify(token)
	if !ok || claims.Email == "" {
		return
	}
	s.audit.Record(ctx, audit.Event{Type: models.EventLogout, IP: ip, Email: claims.Email})
}

// IsAdmin re-resolves admin status from the store; any failure answers false.
func (s *Service) IsAdmin(ctx context.Context, claims *auth.Claims) bool {
	if claims == nil {
		return false
	}
	ok, err := s.access.IsAdmin(ctx, claims.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", claims.UserID).Warn("admin lookup failed")
		return false
	}
	return ok
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || len(next) < invite.MinPasswordLength {
		return apperr.Validation("New password must be at least 8 characters long.")
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !u.HasPassword()) {
		return apperr.NotFound("User not found.")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if !auth.VerifyPassword(*u.PasswordHash, current) {
		return apperr.Validation("Current password is incorrect.")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.st.UpdateUserPasswordHash(ctx, u.ID, hash); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) AcceptTerms(ctx context.Context, userID, ip string) error {
	u, err := s.st.AcceptTerms(ctx, userID, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Authentication("Invalid token")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	s.audit.Record(ctx, audit.Event{Type: models.EventTermsAccepted, IP: ip, Email: u.Email})
	return nil
}

// Profile is the caller's own account view.
type Profile struct {
	models.User
	IsAdmin bool `json:"isAdmin"`
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	u, err := s.st.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Profile{}, apperr.NotFound("User not found.")
	}
	if err != nil {
		return Profile{}, apperr.Internal(err)
	}
	isAdmin, err := s.access.IsAdmin(ctx, u.ID)
	if err != nil {
		return Profile{}, apperr.Internal(err)
	}
	return Profile{User: u, IsAdmin: isAdmin}, nil
}

func (s *Service) Links(ctx context.Context, userID string) (access.Access, error) {
	a, err := s.access.Resolve(ctx, userID)
	if err != nil {
		return access.Access{}, apperr.Internal(err)
	}
	return a, nil
}

func (s *Service) Link(ctx context.Context, userID, linkID string) (models.Link, error) {
	l, err := s.access.Link(ctx, userID, linkID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Link{}, apperr.NotFound("Link not found.")
	}
	if err != nil {
		return models.Link{}, apperr.Internal(err)
	}
	return l, nil
}

func (s *Service) IssueInvite(ctx context.Context, email, groupID string) (invite.Invite, error) {
	return s.invites.Issue(ctx, email, groupID)
}

func (s *Service) LookupInvite(ctx context.Context, token string) (string, error) {
	email, err := s.invites.Lookup(ctx, token)
	if errors.Is(err, invite.ErrInvalidToken) {
		return "", apperr.Validation("Invalid or expired invite token")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return email, nil
}

func (s *Service) CompleteInvite(ctx context.Context, token, password string) error {
	_, err := s.invites.Complete(ctx, token, password)
	if errors.Is(err, invite.ErrInvalidToken) {
		return apperr.Validation("Invalid or expired invite token")
	}
	return err
}

// PruneAuditLogs authorizes a maintenance caller by "Bearer <JWT_SECRET>"
// and removes audit rows past retention.
func (s *Service) PruneAuditLogs(ctx context.Context, authorization string) (maintenance.PruneResult, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) || !s.tokens.MatchesSecret(strings.TrimPrefix(authorization, prefix)) {
		return maintenance.PruneResult{}, apperr.Authentication("Unauthorized cron execution")
	}
	res, err := s.pruner.Prune(ctx)
	if err != nil {
		return maintenance.PruneResult{}, apperr.Internal(err)
	}
	return res, nil
}
