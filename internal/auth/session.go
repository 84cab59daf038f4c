package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingSecret is returned when the signing secret is empty.
var ErrMissingSecret = errors.New("JWT_SECRET is not configured")

// SessionTTL is the fixed validity window of a session token.
const SessionTTL = 8 * time.Hour

// Identity is the input to Issue.
type Identity struct {
	UserID  string
	Email   string
	GroupID *string
	IsAdmin bool
}

// Claims is the decoded session payload. Only identity and the coarse admin
// flag are carried; link grants are always resolved from the store.
type Claims struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	GroupID string `json:"groupId,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now for issuance and verification.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func NewTokenService(secret string, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = SessionTTL
	}
	s := &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

func (s *TokenService) TTL() time.Duration { return s.ttl }

func (s *TokenService) Issue(id Identity) (string, error) {
	if strings.TrimSpace(id.UserID) == "" || strings.TrimSpace(id.Email) == "" {
		return "", errors.New("userID and email are required")
	}
	now := s.now().UTC()
	claims := Claims{
		UserID:  id.UserID,
		Email:   id.Email,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	if id.GroupID != nil {
		claims.GroupID = *id.GroupID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a well-formed, correctly signed, unexpired
// token and false for anything else.
func (s *TokenService) Verify(token string) (*Claims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	claims := &Claims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.Email) == "" || claims.IssuedAt == nil {
		return nil, false
	}
	return claims, true
}

// MatchesSecret compares a presented maintenance credential to the signing
// secret in constant time.
func (s *TokenService) MatchesSecret(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), s.secret) == 1
}
