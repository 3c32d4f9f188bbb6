// Package scheduler runs the background sweeps the ingestion pipeline
// needs but no inbound request triggers: dead-letter queue depth
// alerting and the unidentified-driving-record expiry sweep mandated by
// 49 CFR Part 395 Appendix A's 8-day claim window.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eld-core/ingestion/domain/dlq"
	"github.com/eld-core/ingestion/domain/unidentified"
	"github.com/eld-core/ingestion/infrastructure/logging"
	"github.com/eld-core/ingestion/infrastructure/metrics"
)

// DLQAlerter is notified when the dead-letter queue's open depth crosses
// the configured threshold. The default alerter logs a warning (sweepDLQ
// itself reports the depth metric on every run); tests can substitute a
// recording stub.
type DLQAlerter interface {
	Alert(ctx context.Context, stats dlq.Stats, threshold int)
}

// UnidentifiedRepository is the persistence boundary the expiry sweep
// depends on.
type UnidentifiedRepository interface {
	ListOpen(ctx context.Context) ([]unidentified.Record, error)
	MarkExpired(ctx context.Context, id string, expiredAt time.Time) error
}

// Config bundles the sweep intervals and collaborators a Scheduler needs.
type Config struct {
	DLQStore             *dlq.Store
	DLQAlertThreshold    int
	DLQSweepSchedule     string // cron expression
	UnidentifiedStore    UnidentifiedRepository
	UnidentifiedMaxAge   time.Duration
	UnidentifiedSchedule string // cron expression
	Alerter              DLQAlerter
	Logger               *logging.Logger
	Metrics              *metrics.Metrics
}

// defaultDLQSchedule runs the alert-threshold check every minute; the
// check itself is cheap (an in-memory status tally) so a tight interval
// costs nothing and keeps the alert latency low.
const defaultDLQSchedule = "*/1 * * * *"

// defaultUnidentifiedSchedule runs the expiry sweep once an hour: the
// 8-day claim window makes sub-hour precision unnecessary.
const defaultUnidentifiedSchedule = "0 * * * *"

// Scheduler drives the cron-scheduled background sweeps on top of
// robfig/cron, the same scheduling library the ingestion pipeline's wider
// service family uses for periodic jobs.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	logger *logging.Logger
}

// New builds a Scheduler with its sweeps registered but not yet running.
func New(cfg Config) *Scheduler {
	if cfg.DLQAlertThreshold <= 0 {
		cfg.DLQAlertThreshold = 50
	}
	if cfg.DLQSweepSchedule == "" {
		cfg.DLQSweepSchedule = defaultDLQSchedule
	}
	if cfg.UnidentifiedMaxAge <= 0 {
		cfg.UnidentifiedMaxAge = unidentified.DefaultMaxAge
	}
	if cfg.UnidentifiedSchedule == "" {
		cfg.UnidentifiedSchedule = defaultUnidentifiedSchedule
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = loggingAlerter{logger: cfg.Logger}
	}

	s := &Scheduler{
		cfg:    cfg,
		cron:   cron.New(),
		logger: cfg.Logger,
	}
	return s
}

// Start registers both sweeps with the cron scheduler and begins running
// them in their own goroutines. Start returns once registration succeeds;
// it does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.DLQStore != nil {
		if _, err := s.cron.AddFunc(s.cfg.DLQSweepSchedule, func() { s.sweepDLQ(ctx) }); err != nil {
			return fmt.Errorf("register dlq alert sweep: %w", err)
		}
	}
	if s.cfg.UnidentifiedStore != nil {
		if _, err := s.cron.AddFunc(s.cfg.UnidentifiedSchedule, func() { s.sweepUnidentified(ctx) }); err != nil {
			return fmt.Errorf("register unidentified expiry sweep: %w", err)
		}
	}
	s.cron.Start()
	s.logger.Info(ctx, "scheduler started", map[string]interface{}{
		"dlq_schedule":          s.cfg.DLQSweepSchedule,
		"unidentified_schedule": s.cfg.UnidentifiedSchedule,
	})
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight sweep to
// finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info(ctx, "scheduler stopped", nil)
}

func (s *Scheduler) sweepDLQ(ctx context.Context) {
	stats := s.cfg.DLQStore.StatsSnapshot(ctx)
	s.cfg.Metrics.SetDLQDepth("eld-ingestion", "pending", stats.Pending)
	s.cfg.Metrics.SetDLQDepth("eld-ingestion", "retrying", stats.Retrying)
	if dlq.AlertThresholdExceeded(stats, s.cfg.DLQAlertThreshold) {
		s.cfg.Alerter.Alert(ctx, stats, s.cfg.DLQAlertThreshold)
	}
}

func (s *Scheduler) sweepUnidentified(ctx context.Context) {
	records, err := s.cfg.UnidentifiedStore.ListOpen(ctx)
	if err != nil {
		s.logger.WithError(err).Error("unidentified expiry sweep: list open failed")
		return
	}

	now := time.Now().UTC()
	expired := 0
	for _, rec := range records {
		if !rec.IsExpirable(now, s.cfg.UnidentifiedMaxAge) {
			continue
		}
		if err := s.cfg.UnidentifiedStore.MarkExpired(ctx, rec.ID, now); err != nil {
			s.logger.WithError(err).Error(fmt.Sprintf("unidentified expiry sweep: mark expired failed for %s", rec.ID))
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info(ctx, "unidentified driving records expired", map[string]interface{}{"count": expired})
	}
}

// loggingAlerter is the default DLQAlerter: it logs at warning level.
// Wiring an actual paging integration is left to the deployment, not this
// module.
type loggingAlerter struct {
	logger *logging.Logger
}

func (a loggingAlerter) Alert(ctx context.Context, stats dlq.Stats, threshold int) {
	a.logger.WithFields(map[string]interface{}{
		"pending":   stats.Pending,
		"retrying":  stats.Retrying,
		"threshold": threshold,
	}).Warn("dead-letter queue depth exceeds alert threshold")
}
