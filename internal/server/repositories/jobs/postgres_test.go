package jobs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestInsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	runAt := time.Now()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+dispatch_jobs\s*\(id,\s*queue,\s*kind,\s*group_key,\s*payload,\s*max_attempts,\s*run_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*$`).
		WithArgs("j1", "whatsapp", "direct_send", "d1", []byte(`{}`), 3, runAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.Job{
		ID: "j1", Queue: "whatsapp", Kind: "direct_send", GroupKey: "d1", Payload: []byte(`{}`), MaxAttempts: 3, RunAt: runAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const claimQ = `(?s)^UPDATE\s+dispatch_jobs\s+SET\s+locked_until\s*=\s*\$3\s+WHERE\s+id\s*=\s*\(.*FOR\s+UPDATE\s+SKIP\s+LOCKED\s*\)\s*RETURNING\s+id,.*created_at\s*$`

func TestClaimDue_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(claimQ).
		WithArgs("whatsapp", now, now.Add(time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "queue", "kind", "group_key", "payload", "attempts", "max_attempts", "run_at", "last_error", "created_at"}).
			AddRow("j1", "whatsapp", "direct_send", "d1", []byte(`{"to":"1"}`), 1, 3, now, "boom", now))

	j, err := repo.ClaimDue(context.Background(), "whatsapp", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", j.ID)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, `{"to":"1"}`, string(j.Payload))
}

func TestClaimDue_Empty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(claimQ).WillReturnError(sql.ErrNoRows)

	_, err := repo.ClaimDue(context.Background(), "whatsapp", time.Now(), time.Minute)
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestDeleteAndReschedule(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	runAt := time.Now().Add(5 * time.Second)
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+dispatch_jobs\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("j1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+dispatch_jobs\s+SET\s+attempts\s*=\s*\$2,\s*run_at\s*=\s*\$3,\s*last_error\s*=\s*\$4,\s*locked_until\s*=\s*NULL\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("j2", 2, runAt, "boom").
		WillReturnError(errors.New("db down"))

	require.NoError(t, repo.Delete(context.Background(), "j1"))
	err := repo.Reschedule(context.Background(), "j2", 2, runAt, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db down")
}

func TestInMemoryRepository_ClaimOrderAndLease(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = r.Insert(ctx, &models.Job{ID: "late", Queue: "q", RunAt: base.Add(2 * time.Second)})
	_ = r.Insert(ctx, &models.Job{ID: "a", Queue: "q", RunAt: base})
	_ = r.Insert(ctx, &models.Job{ID: "b", Queue: "q", RunAt: base})
	_ = r.Insert(ctx, &models.Job{ID: "other", Queue: "other", RunAt: base})

	j, err := r.ClaimDue(ctx, "q", base, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a", j.ID)

	j, err = r.ClaimDue(ctx, "q", base, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", j.ID, "leased job must be skipped")

	_, err = r.ClaimDue(ctx, "q", base, time.Minute)
	assert.True(t, errors.Is(err, common.ErrorNotFound), "late job is not due yet")

	require.NoError(t, r.Reschedule(ctx, "a", 1, base.Add(time.Second), "boom"))
	ids := []string{}
	for _, p := range r.Pending("q") {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"b", "a", "late"}, ids)
}
