package audit

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"accessportal/internal/metrics"
	"accessportal/internal/models"
)

// Event is one security-relevant occurrence. Email is the attempted or
// authenticated address and may be empty.
type Event struct {
	Type  models.AuditEventType
	IP    string
	Email string
	At    time.Time
}

// Recorder is fire-and-forget: implementations never return errors to the
// caller and never block the request on a failing sink.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Sink is one destination for audit events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// MultiRecorder fans an event out to every sink independently.
type MultiRecorder struct {
	sinks   []Sink
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(log logrus.FieldLogger, m *metrics.Metrics, sinks ...Sink) *MultiRecorder {
	return &MultiRecorder{sinks: sinks, log: log, metrics: m, now: time.Now}
}

func (r *MultiRecorder) Record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = r.now()
	}
	e.At = e.At.UTC()
	if strings.TrimSpace(e.IP) == "" {
		e.IP = "unknown"
	}
	r.metrics.AuditEvent(string(e.Type))
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			r.metrics.AuditSinkError(s.Name())
			if fs, ok := s.(*FileSink); ok && fs.quiet {
				continue
			}
			r.log.WithError(err).WithFields(logrus.Fields{
				"sink":  s.Name(),
				"event": string(e.Type),
			}).Warn("audit sink write failed")
		}
	}
}

// Store is the persistence the DB sink needs.
type Store interface {
	InsertAuditLog(ctx context.Context, e models.AuditLog) error
}

type DBSink struct {
	store Store
}

func NewDBSink(st Store) *DBSink { return &DBSink{store: st} }

func (s *DBSink) Name() string { return "db" }

func (s *DBSink) Write(ctx context.Context, e Event) error {
	row := models.AuditLog{
		ID:        NewID(e.At),
		EventType: e.Type,
		IPAddress: e.IP,
		CreatedAt: e.At,
	}
	if e.Email != "" {
		email := e.Email
		row.EmailAttempt = &email
	}
	if err := s.store.InsertAuditLog(ctx, row); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// FileSink appends one line per event to a host log file. Write failures are
// reported to the recorder; in production they are counted but not logged.
type FileSink struct {
	mu    sync.Mutex
	path  string
	quiet bool
}

func NewFileSink(path string, production bool) *FileSink {
	return &FileSink{path: path, quiet: production}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, e Event) error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Clean(s.path), err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatLine(e)); err != nil {
		return fmt.Errorf("append %s: %w", s.path, err)
	}
	return nil
}

// FormatLine renders the host log line for e.
func FormatLine(e Event) string {
	email := e.Email
	if email == "" {
		email = "N/A"
	}
	return fmt.Sprintf("[%s] [%s] IP: %s | EMAIL: %s\n",
		e.At.UTC().Format("2006-01-02T15:04:05.000Z"), e.Type, e.IP, email)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-sortable identifier for an audit row.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
