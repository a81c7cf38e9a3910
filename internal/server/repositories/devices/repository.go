// Package devices reads device rows and records their connection status.
package devices

import (
	"context"

	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*models.Device, error)
	FindForUser(ctx context.Context, userID, id string) (*models.Device, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*models.Device, error)
	FindOwner(ctx context.Context, id string) (*models.DeviceOwner, error)
	UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) (*models.DeviceOwner, error)
}
