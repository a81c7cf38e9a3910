// Package queue is a durable, rate-limited job queue with delayed execution
// and bounded retries. Each queue is consumed by one worker.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/dbx"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Queue names.
const (
	WhatsApp     = "whatsapp"
	WhatsAppBulk = "whatsapp-bulk"
	Email        = "email"
)

// Handler processes one job. A nil return completes the job; an error
// wrapped with Permanent drops it; any other error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Options tune a queue. Zero values fall back to the defaults below.
type Options struct {
	Rate         float64
	Burst        int
	MaxAttempts  int
	Backoff      time.Duration
	PollInterval time.Duration
	Lease        time.Duration
	Now          func() time.Time
}

const (
	DefaultRate         = 10
	DefaultMaxAttempts  = 3
	DefaultBackoff      = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultLease        = 5 * time.Minute
)

func (o *Options) withDefaults() {
	if o.Rate <= 0 {
		o.Rate = DefaultRate
	}
	if o.Burst <= 0 {
		o.Burst = int(o.Rate)
		if o.Burst < 1 {
			o.Burst = 1
		}
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Queue struct {
	name   string
	db     *sql.DB
	rm     repomanager.RepositoryManager
	logger logging.Logger
	opts   Options

	// limiter caps the whole queue, not each device.
	limiter *rate.Limiter
}

func New(name string, db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger, opts Options) *Queue {
	opts.withDefaults()
	return &Queue{
		name:    name,
		db:      db,
		rm:      rm,
		logger:  logger.With("module", "queue", "queue", name),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
	}
}

func (q *Queue) Name() string { return q.name }

type enqueueConfig struct {
	delay time.Duration
}

type EnqueueOption func(*enqueueConfig)

// WithDelay makes the job eligible only after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) { c.delay = d }
}

func (q *Queue) newJob(p Payload, runAt time.Time) (*models.Job, error) {
	data, err := encodePayload(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &models.Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Kind:        string(p.Kind()),
		GroupKey:    p.GroupKey(),
		Payload:     data,
		MaxAttempts: q.opts.MaxAttempts,
		RunAt:       runAt,
	}, nil
}

// Enqueue stores a job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, p Payload, opts ...EnqueueOption) (string, error) {
	var cfg enqueueConfig
	for _, o := range opts {
		o(&cfg)
	}

	job, err := q.newJob(p, q.opts.Now().Add(cfg.delay))
	if err != nil {
		return "", err
	}
	if err := q.rm.Jobs(q.db).Insert(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// EnqueueBulk stores all payloads in one transaction. Item i becomes due
// i*step after now, so items are released in order.
func (q *Queue) EnqueueBulk(ctx context.Context, payloads []Payload, step time.Duration) ([]string, error) {
	now := q.opts.Now()
	ids := make([]string, 0, len(payloads))

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.rm.Jobs(tx)
		for i, p := range payloads {
			job, err := q.newJob(p, now.Add(time.Duration(i)*step))
			if err != nil {
				return err
			}
			if err := repo.Insert(ctx, job); err != nil {
				return err
			}
			ids = append(ids, job.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Run consumes the queue until ctx is done.
func (q *Queue) Run(ctx context.Context, h Handler) {
	q.logger.Info(ctx, "queue worker started")
	defer q.logger.Info(context.Background(), "queue worker stopped")

	for ctx.Err() == nil {
		processed, err := q.ProcessNext(ctx, h)
		if err != nil && ctx.Err() == nil {
			q.logger.Error(ctx, "queue poll failed", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// ProcessNext claims and handles at most one due job. It reports whether a
// job was claimed.
func (q *Queue) ProcessNext(ctx context.Context, h Handler) (bool, error) {
	repo := q.rm.Jobs(q.db)

	row, err := repo.ClaimDue(ctx, q.name, q.opts.Now(), q.opts.Lease)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger := q.logger.With("job_id", row.ID, "kind", row.Kind)

	payload, err := decodePayload(Kind(row.Kind), row.Payload)
	if err != nil {
		logger.Error(ctx, "dropping undecodable job", "error", err)
		return true, repo.Delete(ctx, row.ID)
	}

	// the lease expires on its own if we are cancelled while waiting
	if err := q.limiter.Wait(ctx); err != nil {
		return true, err
	}

	job := Job{ID: row.ID, Queue: row.Queue, Payload: payload, Attempt: row.Attempts + 1, MaxAttempts: row.MaxAttempts}

	herr := h.Handle(ctx, job)
	switch {
	case herr == nil:
		logger.Debug(ctx, "job completed", "attempt", job.Attempt)
		return true, repo.Delete(ctx, row.ID)
	case IsPermanent(herr) || job.Attempt >= job.MaxAttempts:
		logger.Warn(ctx, "job failed", "attempt", job.Attempt, "error", herr)
		return true, repo.Delete(ctx, row.ID)
	default:
		logger.Info(ctx, "job will be retried", "attempt", job.Attempt, "error", herr)
		return true, repo.Reschedule(ctx, row.ID, job.Attempt, q.opts.Now().Add(q.opts.Backoff), herr.Error())
	}
}
