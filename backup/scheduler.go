/*
scheduler.go - Periodic ledger backups

DESIGN:
  - One gocron duration job exports the document and writes it to every
    sink. Singleton mode: a slow upload delays the next run instead of
    overlapping it.
  - A sink failure does not stop the other sinks; the errors are joined.
  - An empty ledger (nothing ever committed) is skipped, not an error
    for the job.

USAGE:
  sched := backup.NewScheduler(ledger, time.Hour, log, dirSink, s3Sink)
  sched.Start()
  // ... later
  sched.Stop()
*/
package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// Exporter yields the durable document bytes.
type Exporter interface {
	Export(ctx context.Context) ([]byte, error)
}

// Result describes one backup run.
type Result struct {
	Name  string
	Bytes int
	Sinks []string // sinks that stored the backup
}

// Scheduler runs backups on an interval.
type Scheduler struct {
	exporter Exporter
	sinks    []Sink
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	now func() time.Time

	mu    sync.Mutex
	sched gocron.Scheduler
}

// NewScheduler creates a scheduler. An interval <= 0 disables the
// periodic job; RunOnce still works.
func NewScheduler(exporter Exporter, interval time.Duration, log *zap.Logger, sinks ...Sink) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		exporter: exporter,
		sinks:    sinks,
		interval: interval,
		timeout:  2 * time.Minute,
		log:      log,
		now:      time.Now,
	}
}

// Enabled reports whether Start will schedule a job.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0 && len(s.sinks) > 0
}

// Start begins the periodic job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		s.log.Info("backup scheduler disabled")
		return nil
	}
	if s.sched != nil {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create backup scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runScheduled),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		sched.Shutdown()
		return fmt.Errorf("schedule backup job: %w", err)
	}
	sched.Start()
	s.sched = sched

	s.log.Info("backup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("sinks", len(s.sinks)))
	return nil
}

// Stop shuts the scheduler down and waits for a running job.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	s.log.Info("backup scheduler stopped")
	return err
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ledger.ErrNoDocument):
		s.log.Info("backup skipped, ledger is empty")
	case err != nil:
		s.log.Error("backup failed", zap.Error(err))
	default:
		s.log.Info("backup stored",
			zap.String("name", res.Name),
			zap.Int("bytes", res.Bytes),
			zap.Strings("sinks", res.Sinks))
	}
}

// RunOnce exports the document and writes it to every sink. It returns
// ledger.ErrNoDocument when there is nothing to back up.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if len(s.sinks) == 0 {
		return Result{}, errors.New("no backup sinks configured")
	}
	data, err := s.exporter.Export(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Name: ObjectName(s.now()), Bytes: len(data)}
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Put(ctx, res.Name, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		res.Sinks = append(res.Sinks, sink.Name())
	}
	return res, errors.Join(errs...)
}
