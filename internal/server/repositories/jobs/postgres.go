package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/dbx"
	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, job *models.Job) error {
	query :=
		`INSERT INTO dispatch_jobs (id, queue, kind, group_key, payload, max_attempts, run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Queue, job.Kind, job.GroupKey, job.Payload, job.MaxAttempts, job.RunAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ClaimDue uses SKIP LOCKED so several workers may poll the same queue.
// An expired lease makes the job claimable again.
func (r *PostgresRepository) ClaimDue(ctx context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error) {
	query :=
		`UPDATE dispatch_jobs SET locked_until = $3
		 WHERE id = (
			SELECT id FROM dispatch_jobs
			WHERE queue = $1 AND run_at <= $2 AND (locked_until IS NULL OR locked_until < $2)
			ORDER BY run_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, queue, kind, group_key, payload, attempts, max_attempts, run_at, last_error, created_at
		 `

	j := &models.Job{}
	err := r.db.QueryRowContext(ctx, query, queue, now, now.Add(lease)).Scan(
		&j.ID, &j.Queue, &j.Kind, &j.GroupKey, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.RunAt, &j.LastError, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM dispatch_jobs WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id string, attempts int, runAt time.Time, lastErr string) error {
	query :=
		`UPDATE dispatch_jobs
		 SET attempts = $2, run_at = $3, last_error = $4, locked_until = NULL
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id, attempts, runAt, lastErr); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
