package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accessportal/internal/metrics"
	"accessportal/internal/models"
)

type memStore struct {
	rows []models.AuditLog
	err  error
}

func (m *memStore) InsertAuditLog(_ context.Context, e models.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, e)
	return nil
}

func TestFormatLine(t *testing.T) {
	at := time.Date(2026, 4, 5, 6, 7, 8, 9_000_000, time.UTC)
	got := FormatLine(Event{Type: models.EventLoginFailed, IP: "10.1.2.3", Email: "x@corp.local", At: at})
	assert.Equal(t, "[2026-04-05T06:07:08.009Z] [LOGIN_FAILED] IP: 10.1.2.3 | EMAIL: x@corp.local\n", got)

	got = FormatLine(Event{Type: models.EventLogout, IP: "unknown", At: at})
	assert.True(t, strings.HasSuffix(got, "| EMAIL: N/A\n"), got)
}

func TestRecorderWritesBothSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	st := &memStore{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger, _ := test.NewNullLogger()

	rec := NewRecorder(logger, m, NewDBSink(st), NewFileSink(path, false))
	rec.Record(context.Background(), Event{Type: models.EventLoginSuccess, IP: "10.0.0.9", Email: "admin@corp.local"})
	rec.Record(context.Background(), Event{Type: models.EventLogout})

	require.Len(t, st.rows, 2)
	assert.Len(t, st.rows[0].ID, 26)
	require.NotNil(t, st.rows[0].EmailAttempt)
	assert.Equal(t, "admin@corp.local", *st.rows[0].EmailAttempt)
	assert.Nil(t, st.rows[1].EmailAttempt)
	assert.Equal(t, "unknown", st.rows[1].IPAddress)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[LOGIN_SUCCESS] IP: 10.0.0.9 | EMAIL: admin@corp.local")
	assert.Contains(t, lines[1], "[LOGOUT] IP: unknown | EMAIL: N/A")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("LOGIN_SUCCESS")))
}

func TestDBFailureDoesNotBlockFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	st := &memStore{err: errors.New("database is locked")}
	logger, hook := test.NewNullLogger()

	rec := NewRecorder(logger, nil, NewDBSink(st), NewFileSink(path, false))
	rec.Record(context.Background(), Event{Type: models.EventLoginFailed, IP: "1.2.3.4", Email: "a@b.c"})

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[LOGIN_FAILED]")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "db", hook.LastEntry().Data["sink"])
}

func TestUnwritableFileIsSwallowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "audit.log")
	st := &memStore{}

	devLogger, devHook := test.NewNullLogger()
	NewRecorder(devLogger, nil, NewDBSink(st), NewFileSink(path, false)).
		Record(context.Background(), Event{Type: models.EventLogout, IP: "ip"})
	assert.Len(t, st.rows, 1, "db sink must still persist")
	require.Len(t, devHook.Entries, 1)
	assert.Equal(t, "file", devHook.LastEntry().Data["sink"])

	prodLogger, prodHook := test.NewNullLogger()
	NewRecorder(prodLogger, nil, NewDBSink(st), NewFileSink(path, true)).
		Record(context.Background(), Event{Type: models.EventLogout, IP: "ip"})
	assert.Len(t, st.rows, 2)
	assert.Empty(t, prodHook.Entries, "production must not warn about the host log")
}

func TestNewIDIsSortable(t *testing.T) {
	a := NewID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewID(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)
}
