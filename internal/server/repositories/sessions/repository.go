// Package sessions stores encrypted per-device credential and key records.
package sessions

import (
	"context"

	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, rec *models.SessionRecord) error
	Find(ctx context.Context, deviceID, filename string) (*models.SessionRecord, error)
	Delete(ctx context.Context, deviceID, filename string) error
	DeleteAll(ctx context.Context, deviceID string) error
	ListDeviceIDs(ctx context.Context, filename string) ([]string, error)
}
