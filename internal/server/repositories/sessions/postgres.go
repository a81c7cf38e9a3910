package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.SessionRecord) error {
	query :=
		`INSERT INTO sessions (device_id, filename, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (device_id, filename) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = now()
		 `

	if _, err := r.db.ExecContext(ctx, query, rec.DeviceID, rec.Filename, rec.Data); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, deviceID, filename string) (*models.SessionRecord, error) {
	query :=
		`SELECT device_id, filename, data, updated_at FROM sessions
		 WHERE device_id = $1 AND filename = $2
		 `

	rec := &models.SessionRecord{}
	err := r.db.QueryRowContext(ctx, query, deviceID, filename).
		Scan(&rec.DeviceID, &rec.Filename, &rec.Data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, deviceID, filename string) error {
	query := `DELETE FROM sessions WHERE device_id = $1 AND filename = $2`

	if _, err := r.db.ExecContext(ctx, query, deviceID, filename); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, deviceID string) error {
	query := `DELETE FROM sessions WHERE device_id = $1`

	if _, err := r.db.ExecContext(ctx, query, deviceID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListDeviceIDs returns every device that has a record with the given filename.
func (r *PostgresRepository) ListDeviceIDs(ctx context.Context, filename string) ([]string, error) {
	query :=
		`SELECT device_id FROM sessions
		 WHERE filename = $1
		 ORDER BY device_id
		 `

	rows, err := r.db.QueryContext(ctx, query, filename)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}
