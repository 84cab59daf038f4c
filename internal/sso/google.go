package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"accessportal/internal/audit"
	"accessportal/internal/auth"
	"accessportal/internal/metrics"
	"accessportal/internal/models"
	"accessportal/internal/store"
)

// Redirect codes surfaced to the login page as /login?error=<code>.
const (
	CodeNoCode           = "OAUTH_NO_CODE"
	CodeNotConfigured    = "SSO_NOT_CONFIGURED"
	CodeTokenFailed      = "OAUTH_TOKEN_FAILED"
	CodeProfileFailed    = "OAUTH_PROFILE_FAILED"
	CodeDomainNotAllowed = "DOMAIN_NOT_ALLOWED"
	CodeInactiveAccount  = "INACTIVE_ACCOUNT"
	CodeStateMismatch    = "OAUTH_STATE_MISMATCH"
	CodeInternal         = "Internal_Server_Error"
)

const (
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultTimeout     = 8 * time.Second
)

// Error is a callback failure with the code shown to the user.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf maps any callback error to its redirect code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func fail(code string, err error) error { return &Error{Code: code, Err: err} }

type Config struct {
	ClientID     string
	ClientSecret string
	Domain       string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's; tests point them at a
	// local server.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	Timeout     time.Duration
}

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateSSOUser(ctx context.Context, email string) (models.User, error)
	TouchUserLastLogin(ctx context.Context, userID string, at time.Time) error
	GetGroup(ctx context.Context, id string) (models.Group, error)
}

type Google struct {
	oauth       *oauth2.Config
	domain      string
	userInfoURL string
	client      *http.Client

	store   Store
	tokens  *auth.TokenService
	audit   audit.Recorder
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewGoogle(cfg Config, st Store, tokens *auth.TokenService, rec audit.Recorder, log logrus.FieldLogger, m *metrics.Metrics) *Google {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = DefaultUserInfoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		domain:      strings.ToLower(strings.TrimSpace(cfg.Domain)),
		userInfoURL: userInfo,
		client:      &http.Client{Timeout: timeout},
		store:       st,
		tokens:      tokens,
		audit:       rec,
		log:         log,
		metrics:     m,
		now:         time.Now,
	}
}

// Configured reports whether client id, secret and workspace domain are set.
func (g *Google) Configured() bool {
	return g.oauth.ClientID != "" && g.oauth.ClientSecret != "" && g.domain != ""
}

// AuthCodeURL is the consent redirect for state.
func (g *Google) AuthCodeURL(state string) (string, error) {
	if !g.Configured() {
		return "", fail(CodeNotConfigured, nil)
	}
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

type Result struct {
	User  models.User
	Token string
}

type profile struct {
	Email string `json:"email"`
}

// Callback exchanges code, enforces the workspace domain, provisions unknown
// users without a group and issues a session token.
func (g *Google) Callback(ctx context.Context, code, ip string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{}, fail(CodeNoCode, nil)
	}
	if !g.Configured() {
		return Result{}, fail(CodeNotConfigured, nil)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		g.metrics.LoginAttempt("google", "token_failed")
		return Result{}, fail(CodeTokenFailed, err)
	}

	email, err := g.fetchEmail(ctx, tok)
	if err != nil {
		g.metrics.LoginAttempt("google", "profile_failed")
		return Result{}, fail(CodeProfileFailed, err)
	}

	if !strings.HasSuffix(strings.ToLower(email), "@"+g.domain) {
		g.audit.Record(ctx, audit.Event{Type: models.EventLoginFailed, IP: ip, Email: email})
		g.metrics.LoginAttempt("google", "domain_rejected")
		return Result{}, fail(CodeDomainNotAllowed, nil)
	}

	u, err := g.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u, err = g.store.CreateSSOUser(ctx, email)
		if err != nil {
			return Result{}, fail(CodeInternal, err)
		}
		g.log.WithField("email", u.Email).Info("sso user provisioned")
	case err != nil:
		return Result{}, fail(CodeInternal, err)
	case !u.IsActive:
		g.metrics.LoginAttempt("google", "inactive")
		return Result{}, fail(CodeInactiveAccount, nil)
	}

	if err := g.store.TouchUserLastLogin(ctx, u.ID, g.now().UTC()); err != nil {
		return Result{}, fail(CodeInternal, err)
	}

	isAdmin := false
	if u.GroupID != nil {
		grp, err := g.store.GetGroup(ctx, *u.GroupID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, fail(CodeInternal, err)
		}
		isAdmin = err == nil && grp.Admin()
	}

	token, err := g.tokens.Issue(auth.Identity{UserID: u.ID, Email: u.Email, GroupID: u.GroupID, IsAdmin: isAdmin})
	if err != nil {
		return Result{}, fail(CodeInternal, err)
	}
	g.audit.Record(ctx, audit.Event{Type: models.EventLoginSuccess, IP: ip, Email: u.Email})
	g.metrics.LoginAttempt("google", "success")
	return Result{User: u, Token: token}, nil
}

func (g *Google) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	tok.SetAuthHeader(req)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	var p profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return "", err
	}
	p.Email = strings.TrimSpace(p.Email)
	if p.Email == "" {
		return "", errors.New("profile has no email")
	}
	return p.Email, nil
}
