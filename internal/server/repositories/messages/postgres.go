package messages

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

func (r *PostgresRepository) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	query :=
		`INSERT INTO messages (device_id, user_id, send_id, phone_number, name, body, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		m.DeviceID, m.UserID, m.SendID, m.PhoneNumber, m.Name, m.Body, string(m.Status)).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) FindBySendID(ctx context.Context, deviceID, sendID string) (*models.Message, error) {
	query :=
		`SELECT id, device_id, user_id, send_id, phone_number, name, body, status, created_at
		 FROM messages
		 WHERE device_id = $1 AND send_id = $2
		 `

	m := &models.Message{}
	err := r.db.QueryRowContext(ctx, query, deviceID, sendID).Scan(
		&m.ID, &m.DeviceID, &m.UserID, &m.SendID, &m.PhoneNumber, &m.Name, &m.Body, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error {
	query := `UPDATE messages SET status = $1 WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, string(status), id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
