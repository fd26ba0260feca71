package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/callquality/backend/internal/lock"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/storage"
)

const (
	DefaultPendingLimit   = 100
	DailySyncPendingLimit = 1000
	DefaultRetryLimit     = 50
)

type SchedulerRepository interface {
	ListPendingCallIDs(ctx context.Context, tenantID string, limit int) ([]string, error)
	ResetFailedCalls(ctx context.Context, tenantID string, limit int) ([]string, error)
	ListSyncableTenants(ctx context.Context) ([]models.Tenant, error)
}

type Syncer interface {
	Sync(ctx context.Context, tenantID string, req SyncRequest) (SyncResult, error)
}

type Enqueuer interface {
	Enqueue(ids []string) int
}

type CronSpecs struct {
	ProcessPending string
	DailySync      string
	Cleanup        string
}

type TenantSyncReport struct {
	TenantID       string `json:"tenant_id"`
	Status         string `json:"status"`
	RecordsFetched int    `json:"records_fetched"`
	NewRecords     int    `json:"new_records"`
	Queued         int    `json:"queued"`
	Error          string `json:"error,omitempty"`
}

type DailySyncReport struct {
	TenantsProcessed int                `json:"tenants_processed"`
	Results          []TenantSyncReport `json:"results"`
}

type CleanupReport struct {
	DeletedCount int       `json:"deleted_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Scheduler owns the periodic jobs. Each job can also be run directly.
type Scheduler struct {
	Repo    SchedulerRepository
	Sync    Syncer
	Queue   Enqueuer
	Storage storage.Store
	// Locker keeps replicas from running the same job at once. Nil runs
	// every job unguarded.
	Locker   lock.Locker
	Logger   zerolog.Logger
	Specs    CronSpecs
	Location *time.Location
	Now      func() time.Time

	cron *cron.Cron
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ProcessPending queues pending calls that have a recording. An empty
// tenantID covers every tenant.
func (s *Scheduler) ProcessPending(ctx context.Context, tenantID string, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	ids, err := s.Repo.ListPendingCallIDs(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	queued := s.Queue.Enqueue(ids)
	s.Logger.Info().Str("tenant_id", tenantID).Int("pending", len(ids)).Int("queued", queued).Msg("pending calls queued")
	return queued, nil
}

// RetryFailed moves failed calls back to pending and queues them.
func (s *Scheduler) RetryFailed(ctx context.Context, tenantID string, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRetryLimit
	}
	ids, err := s.Repo.ResetFailedCalls(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	queued := s.Queue.Enqueue(ids)
	s.Logger.Info().Str("tenant_id", tenantID).Int("reset", len(ids)).Int("queued", queued).Msg("failed calls retried")
	return len(ids), nil
}

// DailySync syncs the previous full UTC day for every tenant with
// credentials and queues their pending calls. A failing tenant does not stop
// the others.
func (s *Scheduler) DailySync(ctx context.Context, now time.Time) (DailySyncReport, error) {
	tenants, err := s.Repo.ListSyncableTenants(ctx)
	if err != nil {
		return DailySyncReport{}, err
	}
	end := now.UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)

	report := DailySyncReport{Results: []TenantSyncReport{}}
	for _, t := range tenants {
		entry := TenantSyncReport{TenantID: t.ID, Status: "success"}
		res, err := s.Sync.Sync(ctx, t.ID, SyncRequest{Start: start, End: end})
		if err != nil {
			entry.Status = "failed"
			entry.Error = err.Error()
			s.Logger.Error().Err(err).Str("tenant_id", t.ID).Msg("daily sync failed")
			report.Results = append(report.Results, entry)
			continue
		}
		entry.RecordsFetched = res.TotalRecords
		entry.NewRecords = res.NewRecords
		if entry.Queued, err = s.ProcessPending(ctx, t.ID, DailySyncPendingLimit); err != nil {
			s.Logger.Warn().Err(err).Str("tenant_id", t.ID).Msg("queue after sync failed")
		}
		report.Results = append(report.Results, entry)
	}
	report.TenantsProcessed = len(report.Results)
	return report, nil
}

func (s *Scheduler) CleanupExpired(ctx context.Context) (CleanupReport, error) {
	n, err := s.Storage.CleanupExpired(ctx)
	if err != nil {
		return CleanupReport{}, err
	}
	s.Logger.Info().Int("deleted", n).Msg("expired recordings removed")
	return CleanupReport{DeletedCount: n, Timestamp: s.now().UTC()}, nil
}

// Start registers the periodic jobs and starts the cron runner. Jobs run with
// ctx as their parent.
func (s *Scheduler) Start(ctx context.Context) error {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: s.Logger}
	s.cron = cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	jobs := []struct {
		name string
		spec string
		ttl  time.Duration
		run  func(context.Context) error
	}{
		{"process_pending", s.Specs.ProcessPending, 10 * time.Minute, func(ctx context.Context) error {
			_, err := s.ProcessPending(ctx, "", DefaultPendingLimit)
			return err
		}},
		{"daily_sync", s.Specs.DailySync, 2 * time.Hour, func(ctx context.Context) error {
			_, err := s.DailySync(ctx, s.now())
			return err
		}},
		{"cleanup_expired", s.Specs.Cleanup, 30 * time.Minute, func(ctx context.Context) error {
			_, err := s.CleanupExpired(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runLocked(ctx, j.name, j.ttl, j.run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.Logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner. The returned context is done once running
// jobs have returned.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

func (s *Scheduler) runLocked(ctx context.Context, name string, ttl time.Duration, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	log := s.Logger.With().Str("job", name).Logger()

	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, "job:"+name, ttl)
		if err != nil {
			log.Error().Err(err).Msg("job lock failed")
			return
		}
		if !ok {
			log.Debug().Msg("job running elsewhere, skipped")
			return
		}
		defer release()
	}

	start := time.Now()
	if err := run(ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("job finished")
}

// cronLogger routes cron's own logging into zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
