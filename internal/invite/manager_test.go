package invite

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accessportal/internal/apperr"
	"accessportal/internal/auth"
	"accessportal/internal/db"
	"accessportal/internal/models"
	"accessportal/internal/store"
)

type recordingSender struct {
	mu    sync.Mutex
	to    []string
	links []string
	err   error
}

func (s *recordingSender) SendInvite(_ context.Context, to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	s.links = append(s.links, link)
	return s.err
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	x, err := db.OpenSQLite(filepath.Join(t.TempDir(), "portal.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	require.NoError(t, db.Migrate(x))
	return store.New(x)
}

func newManager(t *testing.T, st *store.Store, sender *recordingSender) *Manager {
	logger, _ := test.NewNullLogger()
	return NewManager(st, sender, "https://portal.corp.local/", logger)
}

var linkRx = regexp.MustCompile(`^https://portal\.corp\.local/invite/[0-9a-f]{64}$`)

func TestNewHireInviteFlow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	sales, err := st.CreateGroup(ctx, "Sales")
	require.NoError(t, err)

	sender := &recordingSender{}
	m := newManager(t, st, sender)

	inv, err := m.Issue(ctx, "newhire@corp.local", sales.ID)
	require.NoError(t, err)
	assert.Regexp(t, linkRx, inv.ActivationLink)
	assert.Equal(t, []string{"newhire@corp.local"}, sender.to)
	assert.Equal(t, []string{inv.ActivationLink}, sender.links)

	pending, err := st.GetUserByID(ctx, inv.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitePending, pending.InviteStatus)
	assert.False(t, pending.IsActive)
	assert.False(t, pending.HasPassword())

	token := strings.TrimPrefix(inv.ActivationLink, "https://portal.corp.local/invite/")
	email, err := m.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "newhire@corp.local", email)

	userID, err := m.Complete(ctx, token, "Welcome123")
	require.NoError(t, err)
	assert.Equal(t, inv.UserID, userID)

	done, err := st.GetUserByID(ctx, inv.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.InviteCompleted, done.InviteStatus)
	assert.True(t, done.IsActive)
	assert.Nil(t, done.InviteToken)
	require.True(t, done.HasPassword())
	assert.True(t, auth.VerifyPassword(*done.PasswordHash, "Welcome123"))

	_, err = m.Complete(ctx, token, "Another123")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueValidation(t *testing.T) {
	st := newStore(t)
	m := newManager(t, st, &recordingSender{})
	ctx := context.Background()

	_, err := m.Issue(ctx, "", "g")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = m.Issue(ctx, "a@corp.local", " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = m.Issue(ctx, "a@corp.local", "missing-group")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	e, _ := apperr.As(err)
	assert.Equal(t, "Group not found.", e.Message)
}

func TestIssueSurvivesDeliveryFailure(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	g, err := st.CreateGroup(ctx, "Ops")
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	m := NewManager(st, &recordingSender{err: errors.New("smtp down")}, "http://localhost:3000", logger)
	inv, err := m.Issue(ctx, "ops@corp.local", g.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(inv.ActivationLink, "http://localhost:3000/invite/"))
	require.NotEmpty(t, hook.Entries)
}

func TestReissueInvalidatesPreviousToken(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	g, err := st.CreateGroup(ctx, "Ops")
	require.NoError(t, err)
	m := newManager(t, st, &recordingSender{})

	first, err := m.Issue(ctx, "ops@corp.local", g.ID)
	require.NoError(t, err)
	second, err := m.Issue(ctx, "ops@corp.local", g.ID)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.ActivationLink, second.ActivationLink)

	oldToken := strings.TrimPrefix(first.ActivationLink, "https://portal.corp.local/invite/")
	_, err = m.Complete(ctx, oldToken, "Password1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCompleteValidation(t *testing.T) {
	m := newManager(t, newStore(t), &recordingSender{})
	ctx := context.Background()

	_, err := m.Complete(ctx, "", "Password1")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Token and password are required", e.Message)

	_, err = m.Complete(ctx, "tok", "short")
	e, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Password must be at least 8 characters long", e.Message)

	_, err = m.Complete(ctx, "unknown-token", "LongEnough1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConcurrentCompletionSucceedsOnce(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	g, err := st.CreateGroup(ctx, "Ops")
	require.NoError(t, err)
	m := newManager(t, st, &recordingSender{})
	m.hash = func(pw string) (string, error) { return "hash:" + pw, nil }

	inv, err := m.Issue(ctx, "race@corp.local", g.ID)
	require.NoError(t, err)
	token := strings.TrimPrefix(inv.ActivationLink, "https://portal.corp.local/invite/")

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Complete(ctx, token, "Password1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, invalid int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidToken):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, invalid)
}
