package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type memJob struct {
	job         models.Job
	seq         int64
	lockedUntil time.Time
}

// InMemoryRepository mirrors the claim semantics of the PostgreSQL table:
// due jobs come out ordered by run_at then insertion order.
type InMemoryRepository struct {
	mu   sync.Mutex
	seq  int64
	jobs map[string]*memJob
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{jobs: make(map[string]*memJob)}
}

func (r *InMemoryRepository) Insert(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	j := *job
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	r.jobs[j.ID] = &memJob{job: j, seq: r.seq}
	return nil
}

func (r *InMemoryRepository) ClaimDue(ctx context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *memJob
	for _, m := range r.jobs {
		if m.job.Queue != queue || m.job.RunAt.After(now) || m.lockedUntil.After(now) {
			continue
		}
		if best == nil || m.job.RunAt.Before(best.job.RunAt) ||
			(m.job.RunAt.Equal(best.job.RunAt) && m.seq < best.seq) {
			best = m
		}
	}
	if best == nil {
		return nil, common.ErrorNotFound
	}
	best.lockedUntil = now.Add(lease)
	j := best.job
	return &j, nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *InMemoryRepository) Reschedule(ctx context.Context, id string, attempts int, runAt time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.jobs[id]
	if !ok {
		return common.ErrorNotFound
	}
	m.job.Attempts = attempts
	m.job.RunAt = runAt
	m.job.LastError = lastErr
	m.lockedUntil = time.Time{}
	return nil
}

// Pending returns the jobs still stored for a queue, in claim order.
func (r *InMemoryRepository) Pending(queue string) []models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*memJob, 0)
	for _, m := range r.jobs {
		if m.job.Queue == queue {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].job.RunAt.Equal(out[k].job.RunAt) {
			return out[i].seq < out[k].seq
		}
		return out[i].job.RunAt.Before(out[k].job.RunAt)
	})
	jobs := make([]models.Job, len(out))
	for i, m := range out {
		jobs[i] = m.job
	}
	return jobs
}
