// Package messages records sent-message history and delivery status.
package messages

import (
	"context"

	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Message) (*models.Message, error)
	FindBySendID(ctx context.Context, deviceID, sendID string) (*models.Message, error)
	UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error
}
