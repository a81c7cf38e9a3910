package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindName(ctx context.Context, userID, phoneNumber string) (string, error) {
	query :=
		`SELECT name FROM contacts
		 WHERE user_id = $1 AND phone_number = $2
		 LIMIT 1
		 `

	var name string
	if err := r.db.QueryRowContext(ctx, query, userID, phoneNumber).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return name, nil
}
