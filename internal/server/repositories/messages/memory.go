package messages

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/google/uuid"
)

type InMemoryRepository struct {
	mu   sync.RWMutex
	rows []models.Message
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now()
	r.rows = append(r.rows, *m)
	return m, nil
}

func (r *InMemoryRepository) FindBySendID(ctx context.Context, deviceID, sendID string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.rows {
		if m.DeviceID == deviceID && m.SendID == sendID {
			return &m, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows[i].Status = status
			return nil
		}
	}
	return common.ErrorNotFound
}

// All returns a copy of every stored message.
func (r *InMemoryRepository) All() []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Message(nil), r.rows...)
}
