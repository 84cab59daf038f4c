package models

import "time"

// AdminGroupName is the reserved name of the seeded administrator group.
const AdminGroupName = "Administrator"

type InviteStatus string

const (
	InvitePending   InviteStatus = "PENDING"
	InviteCompleted InviteStatus = "COMPLETED"
)

type User struct {
	ID               string       `db:"id" json:"id"`
	Email            string       `db:"email" json:"email"`
	PasswordHash     *string      `db:"password_hash" json:"-"`
	GroupID          *string      `db:"group_id" json:"groupId"`
	IsActive         bool         `db:"is_active" json:"isActive"`
	InviteStatus     InviteStatus `db:"invite_status" json:"inviteStatus"`
	InviteToken      *string      `db:"invite_token" json:"-"`
	HasAcceptedTerms bool         `db:"has_accepted_terms" json:"hasAcceptedTerms"`
	AcceptedTermsAt  *time.Time   `db:"accepted_terms_at" json:"acceptedTermsAt"`
	LastLoginAt      *time.Time   `db:"last_login_at" json:"lastLoginAt"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`
}

// HasPassword reports whether a local password credential is set.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// UserWithGroup is the admin listing row.
type UserWithGroup struct {
	User
	Group *Group `json:"group"`
}

type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsAdmin   bool      `db:"is_admin" json:"isAdmin"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Admin reports whether members of the group bypass link grants.
func (g Group) Admin() bool {
	return g.IsAdmin
}

type GroupSummary struct {
	Group
	UserCount int `db:"user_count" json:"userCount"`
	LinkCount int `db:"link_count" json:"linkCount"`
}

type Link struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	URL          string    `db:"url" json:"url"`
	OpenInNewTab bool      `db:"open_in_new_tab" json:"openInNewTab"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type AuditEventType string

const (
	EventLoginSuccess  AuditEventType = "LOGIN_SUCCESS"
	EventLoginFailed   AuditEventType = "LOGIN_FAILED"
	EventLogout        AuditEventType = "LOGOUT"
	EventTermsAccepted AuditEventType = "TERMS_ACCEPTED"
)

type AuditLog struct {
	ID           string         `db:"id" json:"id"`
	EventType    AuditEventType `db:"event_type" json:"eventType"`
	IPAddress    string         `db:"ip_address" json:"ipAddress"`
	EmailAttempt *string        `db:"email_attempt" json:"emailAttempt"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

// SMTPSettings is the singleton mail transport configuration. PasswordEnc holds
// the AES-GCM sealed password and never leaves the server.
type SMTPSettings struct {
	Host        *string   `db:"smtp_host" json:"smtpHost"`
	Port        *int      `db:"smtp_port" json:"smtpPort"`
	User        *string   `db:"smtp_user" json:"smtpUser"`
	PasswordEnc *string   `db:"smtp_pass_enc" json:"-"`
	Secure      bool      `db:"smtp_secure" json:"smtpSecure"`
	From        *string   `db:"smtp_from" json:"smtpFrom"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Configured reports whether enough is stored to attempt delivery.
func (s SMTPSettings) Configured() bool {
	return s.Host != nil && *s.Host != "" && s.From != nil && *s.From != ""
}
