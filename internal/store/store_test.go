package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accessportal/internal/db"
	"accessportal/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	x, err := db.OpenSQLite(filepath.Join(t.TempDir(), "portal.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	require.NoError(t, db.Migrate(x))
	return New(x)
}

func TestEnsureAdminGroupIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)
	second, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsAdmin)
	assert.Equal(t, models.AdminGroupName, second.Name)
}

func TestEnsureAdminGroupPromotesLegacyRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.x.Exec(`INSERT INTO role_groups(id,name,is_admin,created_at) VALUES('legacy','Administrator',0,?)`, time.Now().UTC())
	require.NoError(t, err)

	g, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", g.ID)
	assert.True(t, g.IsAdmin)
}

func TestUpsertInviteResetsExistingUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sales, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	support, err := st.CreateGroup(ctx, "Support")
	require.NoError(t, err)

	u1, err := st.UpsertInvite(ctx, "NewHire@Corp.local", sales.ID, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "newhire@corp.local", u1.Email)
	assert.Equal(t, models.InvitePending, u1.InviteStatus)
	assert.False(t, u1.IsActive)

	u2, err := st.UpsertInvite(ctx, "newhire@corp.local", support.ID, "tok-2")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	require.NotNil(t, u2.GroupID)
	assert.Equal(t, support.ID, *u2.GroupID)
	require.NotNil(t, u2.InviteToken)
	assert.Equal(t, "tok-2", *u2.InviteToken)

	_, err = st.GetUserByInviteToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteInviteConsumesTokenOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	invited, err := st.UpsertInvite(ctx, "newhire@corp.local", g.ID, "tok")
	require.NoError(t, err)

	id, err := st.CompleteInvite(ctx, "tok", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, invited.ID, id)

	u, err := st.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.Equal(t, models.InviteCompleted, u.InviteStatus)
	assert.Nil(t, u.InviteToken)
	require.NotNil(t, u.PasswordHash)
	assert.Equal(t, "hash-1", *u.PasswordHash)

	_, err = st.CompleteInvite(ctx, "tok", "hash-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSSOUserHasNoGroupOrPassword(t *testing.T) {
	st := newTestStore(t)
	u, err := st.CreateSSOUser(context.Background(), "sso@corp.local")
	require.NoError(t, err)

	got, err := st.GetUserByEmail(context.Background(), "sso@corp.local")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.GroupID)
	assert.False(t, got.HasPassword())

	_, err = st.CreateSSOUser(context.Background(), "sso@corp.local")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteGroupRules(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	admin, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, st.DeleteGroup(ctx, admin.ID), ErrProtectedGroup)

	sales, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	_, err = st.UpsertInvite(ctx, "rep@corp.local", sales.ID, "tok")
	require.NoError(t, err)
	assert.ErrorIs(t, st.DeleteGroup(ctx, sales.ID), ErrGroupInUse)

	empty, err := st.CreateGroup(ctx, "Empty")
	require.NoError(t, err)
	require.NoError(t, st.DeleteGroup(ctx, empty.ID))
	_, err = st.GetGroup(ctx, empty.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, st.DeleteGroup(ctx, "missing"), ErrNotFound)
}

func TestCreateGroupDuplicateNameConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	_, err = st.CreateGroup(ctx, "Sales")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestReservedAdminNameOnlyForAdminGroup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	admin, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)

	_, err = st.RenameGroup(ctx, admin.ID, "Admins")
	require.NoError(t, err)
	_, err = st.CreateGroup(ctx, "ADMINISTRATOR")
	assert.ErrorIs(t, err, ErrReservedName)

	ops, err := st.CreateGroup(ctx, "Ops")
	require.NoError(t, err)
	_, err = st.RenameGroup(ctx, ops.ID, models.AdminGroupName)
	assert.ErrorIs(t, err, ErrReservedName)

	g, err := st.RenameGroup(ctx, admin.ID, models.AdminGroupName)
	require.NoError(t, err)
	assert.True(t, g.IsAdmin)
	assert.ErrorIs(t, st.DeleteGroup(ctx, admin.ID), ErrProtectedGroup)
}

func TestDeleteLinkRemovesGrants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	crm, err := st.CreateLink(ctx, "CRM", "https://crm.corp.local", false)
	require.NoError(t, err)
	wiki, err := st.CreateLink(ctx, "Wiki", "https://wiki.corp.local", true)
	require.NoError(t, err)
	require.NoError(t, st.ReplaceGroupLinks(ctx, g.ID, []string{crm.ID, wiki.ID, crm.ID}))

	ids, err := st.LinkIDsForGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.NoError(t, st.DeleteLink(ctx, crm.ID))

	var orphaned int
	require.NoError(t, st.x.Get(&orphaned, `SELECT COUNT(1) FROM group_links WHERE link_id=?`, crm.ID))
	assert.Zero(t, orphaned)

	links, err := st.ListLinksForGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Wiki", links[0].Name)
	assert.True(t, links[0].OpenInNewTab)

	assert.ErrorIs(t, st.DeleteLink(ctx, crm.ID), ErrNotFound)
}

func TestReplaceGroupLinksUnknownGroup(t *testing.T) {
	st := newTestStore(t)
	err := st.ReplaceGroupLinks(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditLogListAndPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	email := "a@corp.local"

	require.NoError(t, st.InsertAuditLog(ctx, models.AuditLog{ID: "01OLD", EventType: models.EventLoginFailed, IPAddress: "1.1.1.1", EmailAttempt: &email, CreatedAt: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, st.InsertAuditLog(ctx, models.AuditLog{ID: "02NEW", EventType: models.EventLoginSuccess, IPAddress: "1.1.1.1", EmailAttempt: &email, CreatedAt: now}))

	logs, err := st.ListAuditLogs(ctx, 100)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "02NEW", logs[0].ID)

	n, err := st.DeleteAuditLogsBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	logs, err = st.ListAuditLogs(ctx, 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventLoginSuccess, logs[0].EventType)
}

func TestSMTPSettingsKeepPasswordWhenOmitted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetSMTPSettings(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	host, from, enc := "smtp.corp.local", "portal@corp.local", "sealed"
	port := 587
	require.NoError(t, st.SaveSMTPSettings(ctx, models.SMTPSettings{Host: &host, Port: &port, From: &from, PasswordEnc: &enc}))

	newHost := "mail.corp.local"
	require.NoError(t, st.SaveSMTPSettings(ctx, models.SMTPSettings{Host: &newHost, Port: &port, From: &from}))

	got, ok, err := st.GetSMTPSettings(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newHost, *got.Host)
	require.NotNil(t, got.PasswordEnc)
	assert.Equal(t, "sealed", *got.PasswordEnc)
	assert.True(t, got.Configured())
}

func TestEnsureAdminKeepsExistingPassword(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, err := st.EnsureAdminGroup(ctx)
	require.NoError(t, err)

	require.NoError(t, st.EnsureAdmin(ctx, "admin@cnm.local", "hash-1", g.ID, false))
	require.NoError(t, st.EnsureAdmin(ctx, "admin@cnm.local", "hash-2", g.ID, false))
	u, err := st.GetUserByEmail(ctx, "admin@cnm.local")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", *u.PasswordHash)
	assert.Equal(t, models.InviteCompleted, u.InviteStatus)

	require.NoError(t, st.EnsureAdmin(ctx, "admin@cnm.local", "hash-3", g.ID, true))
	u, err = st.GetUserByEmail(ctx, "admin@cnm.local")
	require.NoError(t, err)
	assert.Equal(t, "hash-3", *u.PasswordHash)
}

func TestListUsersAttachesGroup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)
	_, err = st.UpsertInvite(ctx, "rep@corp.local", g.ID, "tok")
	require.NoError(t, err)
	_, err = st.CreateSSOUser(ctx, "sso@corp.local")
	require.NoError(t, err)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	byEmail := map[string]models.UserWithGroup{}
	for _, u := range users {
		byEmail[u.Email] = u
	}
	require.NotNil(t, byEmail["rep@corp.local"].Group)
	assert.Equal(t, "Sales", byEmail["rep@corp.local"].Group.Name)
	assert.Nil(t, byEmail["sso@corp.local"].Group)

	require.NoError(t, st.DeleteUser(ctx, byEmail["sso@corp.local"].ID))
	assert.True(t, errors.Is(st.DeleteUser(ctx, byEmail["sso@corp.local"].ID), ErrNotFound))
}
