package devices

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

const selectDevice = `SELECT id, user_id, name, phone_number, api_key, status, created_at, updated_at FROM devices`

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.PhoneNumber, &d.APIKey, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectDevice+` WHERE id = $1`, id))
}

func (r *PostgresRepository) FindForUser(ctx context.Context, userID, id string) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectDevice+` WHERE id = $1 AND user_id = $2`, id, userID))
}

func (r *PostgresRepository) FindByAPIKey(ctx context.Context, apiKey string) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectDevice+` WHERE api_key = $1`, apiKey))
}

func (r *PostgresRepository) FindOwner(ctx context.Context, id string) (*models.DeviceOwner, error) {
	query :=
		`SELECT d.id, d.name, d.phone_number, u.email
		 FROM devices d JOIN users u ON u.id = d.user_id
		 WHERE d.id = $1
		 `

	o := &models.DeviceOwner{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&o.DeviceID, &o.Name, &o.PhoneNumber, &o.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}

// UpdateStatus stores the new status and returns the owner contact details
// needed by status side effects.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) (*models.DeviceOwner, error) {
	query :=
		`UPDATE devices d SET status = $1, updated_at = now()
		 FROM users u
		 WHERE d.id = $2 AND u.id = d.user_id
		 RETURNING d.id, d.name, d.phone_number, u.email
		 `

	o := &models.DeviceOwner{}
	err := r.db.QueryRowContext(ctx, query, string(status), id).Scan(&o.DeviceID, &o.Name, &o.PhoneNumber, &o.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}
