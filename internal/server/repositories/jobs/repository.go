// Package jobs persists dispatch queue entries.
package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, job *models.Job) error
	// ClaimDue leases the earliest due job of a queue until now+lease.
	// It returns common.ErrorNotFound when nothing is due.
	ClaimDue(ctx context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error)
	Delete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, runAt time.Time, lastErr string) error
}
