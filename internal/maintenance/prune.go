package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"accessportal/internal/metrics"
)

type Store interface {
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PruneResult struct {
	Deleted   int64
	OlderThan time.Time
}

// Pruner removes audit rows older than the retention window. It backs both
// the scheduled job and the prune endpoint.
type Pruner struct {
	store         Store
	retentionDays int
	log           logrus.FieldLogger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewPruner(st Store, retentionDays int, log logrus.FieldLogger, m *metrics.Metrics) *Pruner {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Pruner{store: st, retentionDays: retentionDays, log: log, metrics: m, now: time.Now}
}

func (p *Pruner) Prune(ctx context.Context) (PruneResult, error) {
	cutoff := p.now().UTC().AddDate(0, 0, -p.retentionDays)
	n, err := p.store.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune audit logs: %w", err)
	}
	p.metrics.AuditPruned(n)
	p.log.WithFields(logrus.Fields{"deleted": n, "older_than": cutoff.Format(time.RFC3339)}).Info("audit logs pruned")
	return PruneResult{Deleted: n, OlderThan: cutoff}, nil
}

// Scheduler runs the pruner on a cron spec.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewScheduler(spec string, p *Pruner, log logrus.FieldLogger) (*Scheduler, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := p.Prune(ctx); err != nil {
			log.WithError(err).Error("scheduled audit prune failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule audit prune %q: %w", spec, err)
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("audit prune job still running at shutdown")
	}
}
