// Package queue implements the durable job queue behind the ingestion
// pipeline. Jobs are persisted as queue_jobs rows before anything else
// happens, so a crash between accepting a job and completing it leaves the
// job recoverable as pending. Delivery to handlers is at-least-once; handlers
// must be idempotent or check a side effect before acting.
//
// Lifecycle: construct with New, register handlers, then Start. Shutdown
// stops the pollers and waits for in-flight handlers to return.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/domain"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
)

// HandlerFunc processes one claimed job. A nil return completes the job; an
// error feeds the retry policy. A timeout is an ordinary error.
type HandlerFunc func(ctx context.Context, job *domain.QueueJob) error

// Options tunes one enqueued job. Zero values take the queue defaults.
type Options struct {
	Priority    int // lower = more urgent; default 5
	MaxAttempts int // default from config (3)
}

// ErrNotStarted is returned by Shutdown when the queue never ran.
var ErrNotStarted = errors.New("queue: not started")

// ErrUnknownJobType is returned by Enqueue for a type with no registered
// handler, which would otherwise sit pending forever.
var ErrUnknownJobType = errors.New("queue: unknown job type")

type registration struct {
	fn          HandlerFunc
	concurrency int
}

// Queue is the process-wide durable queue. One instance per process,
// constructed at startup and threaded through dependents.
type Queue struct {
	db  *gorm.DB
	cfg config.QueueConfig

	mu       sync.Mutex
	handlers map[string]registration
	started  bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a Queue over the given database handle.
func New(db *gorm.DB, cfg config.QueueConfig) *Queue {
	return &Queue{
		db:       db,
		cfg:      cfg,
		handlers: make(map[string]registration),
	}
}

// RegisterHandler binds a handler and its worker-slot count to a job type.
// Registration must happen before Start.
func (q *Queue) RegisterHandler(jobType string, fn HandlerFunc, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		panic("queue: RegisterHandler after Start")
	}
	q.handlers[jobType] = registration{fn: fn, concurrency: concurrency}
}

// Enqueue persists a job and returns its id. The job becomes runnable
// immediately; workers pick it up ordered by priority then creation time.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts Options) (string, error) {
	q.mu.Lock()
	_, known := q.handlers[jobType]
	q.mu.Unlock()
	if !known {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	priority := opts.Priority
	if priority <= 0 {
		priority = 5
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	job, err := repo.InsertJob(ctx, q.db, jobType, payload, priority, maxAttempts)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	log.Debug().Str("job_id", job.ID).Str("type", jobType).Int("priority", priority).Msg("job enqueued")
	return job.ID, nil
}

// Start recovers jobs that were mid-flight during a previous crash and spins
// up the worker and monitor goroutines. It returns immediately.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("queue: already started")
	}
	q.started = true
	handlers := make(map[string]registration, len(q.handlers))
	for k, v := range q.handlers {
		handlers[k] = v
	}
	q.mu.Unlock()

	recovered, err := repo.RequeueStaleJobs(ctx, q.db)
	if err != nil {
		return fmt.Errorf("requeue stale jobs: %w", err)
	}
	if recovered > 0 {
		log.Info().Int64("count", recovered).Msg("recovered in-flight jobs as pending")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.group, runCtx = errgroup.WithContext(runCtx)

	for jobType, reg := range handlers {
		for i := 0; i < reg.concurrency; i++ {
			jobType, fn := jobType, reg.fn
			q.group.Go(func() error {
				q.workerLoop(runCtx, jobType, fn)
				return nil
			})
		}
	}
	q.group.Go(func() error {
		q.monitorLoop(runCtx)
		return nil
	})
	return nil
}

// Shutdown stops polling and waits for in-flight handlers, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started || q.cancel == nil {
		return ErrNotStarted
	}
	q.cancel()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workerLoop claims and runs jobs of one type until the context is canceled.
func (q *Queue) workerLoop(ctx context.Context, jobType string, fn HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := repo.ClaimNextJob(ctx, q.db, jobType, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Str("type", jobType).Msg("claim failed")
			q.sleep(ctx)
			continue
		}
		if job == nil {
			q.sleep(ctx)
			continue
		}
		q.runJob(ctx, job, fn)
	}
}

// runJob executes one claimed job under the per-attempt timeout and records
// the outcome transition durably.
func (q *Queue) runJob(ctx context.Context, job *domain.QueueJob, fn HandlerFunc) {
	tr := otel.Tracer("queue")
	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.HandlerTimeout)
	jobCtx, span := tr.Start(jobCtx, "runJob",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.type", job.Type),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	start := time.Now()
	err := fn(jobCtx, job)
	span.End()
	cancel()
	jobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		if merr := repo.MarkJobCompleted(context.Background(), q.db, job.ID); merr != nil {
			log.Error().Err(merr).Str("job_id", job.ID).Msg("completion write failed")
			return
		}
		jobsProcessed.WithLabelValues(job.Type, "completed").Inc()
		log.Debug().Str("job_id", job.ID).Str("type", job.Type).Dur("took", time.Since(start)).Msg("job completed")
		return
	}

	backoff := q.backoffFor(job.Attempts)
	// State transitions are never skipped on cancellation: use a fresh context.
	terminal, merr := repo.MarkJobFailed(context.Background(), q.db, job, err, backoff)
	if merr != nil {
		log.Error().Err(merr).Str("job_id", job.ID).Msg("failure write failed")
		return
	}
	if terminal {
		jobsProcessed.WithLabelValues(job.Type, "failed").Inc()
		// Audit trail entry: the terminal failure with full context.
		log.Error().Err(err).
			Str("job_id", job.ID).
			Str("type", job.Type).
			Int("attempts", job.Attempts).
			Interface("payload", job.Payload).
			Msg("job failed permanently")
		return
	}
	jobsProcessed.WithLabelValues(job.Type, "retried").Inc()
	log.Warn().Err(err).
		Str("job_id", job.ID).
		Str("type", job.Type).
		Int("attempt", job.Attempts).
		Dur("backoff", backoff).
		Msg("job attempt failed, will retry")
}

// backoffFor returns the exponential delay before the next attempt:
// base * 2^(attempts-1).
func (q *Queue) backoffFor(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

func (q *Queue) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.cfg.PollInterval):
	}
}

// TypeStats is a point-in-time snapshot of one job type.
type TypeStats struct {
	Type             string `json:"type"`
	Pending          int64  `json:"pending"`
	Processing       int64  `json:"processing"`
	Completed        int64  `json:"completed"`
	Failed           int64  `json:"failed"`
	CompletedLastMin int64  `json:"completed_last_minute"`
}

// Stats reports per-type counts and the one-minute throughput window.
func (q *Queue) Stats(ctx context.Context) ([]TypeStats, error) {
	types, err := repo.JobTypes(ctx, q.db)
	if err != nil {
		return nil, err
	}
	out := make([]TypeStats, 0, len(types))
	cutoff := time.Now().UTC().Add(-time.Minute)
	for _, typ := range types {
		s := TypeStats{Type: typ}
		if s.Pending, err = repo.CountJobs(ctx, q.db, typ, domain.JobPending); err != nil {
			return nil, err
		}
		if s.Processing, err = repo.CountJobs(ctx, q.db, typ, domain.JobProcessing); err != nil {
			return nil, err
		}
		if s.Completed, err = repo.CountJobs(ctx, q.db, typ, domain.JobCompleted); err != nil {
			return nil, err
		}
		if s.Failed, err = repo.CountJobs(ctx, q.db, typ, domain.JobFailed); err != nil {
			return nil, err
		}
		if s.CompletedLastMin, err = repo.CountCompletedSince(ctx, q.db, typ, cutoff); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// monitorLoop refreshes gauges and raises the backlog/failure alerts.
func (q *Queue) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := q.Stats(ctx)
			if err != nil {
				log.Error().Err(err).Msg("queue stats refresh failed")
				continue
			}
			for _, s := range stats {
				jobsByStatus.WithLabelValues(s.Type, string(domain.JobPending)).Set(float64(s.Pending))
				jobsByStatus.WithLabelValues(s.Type, string(domain.JobProcessing)).Set(float64(s.Processing))
				jobsByStatus.WithLabelValues(s.Type, string(domain.JobCompleted)).Set(float64(s.Completed))
				jobsByStatus.WithLabelValues(s.Type, string(domain.JobFailed)).Set(float64(s.Failed))
				jobsPerMinute.WithLabelValues(s.Type).Set(float64(s.CompletedLastMin))

				if s.Pending > q.cfg.PendingAlert {
					log.Warn().Str("type", s.Type).Int64("pending", s.Pending).
						Int64("threshold", q.cfg.PendingAlert).Msg("queue backlog above threshold")
				}
				if s.Failed > q.cfg.FailedAlert {
					log.Warn().Str("type", s.Type).Int64("failed", s.Failed).
						Int64("threshold", q.cfg.FailedAlert).Msg("queue failures above threshold")
				}
			}
		}
	}
}
