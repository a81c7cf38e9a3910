package devices

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
)

// InMemoryRepository keeps devices and their owners' emails in maps.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]models.Device
	emails  map[string]string
	history map[string][]models.DeviceStatus
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices: make(map[string]models.Device),
		emails:  make(map[string]string),
		history: make(map[string][]models.DeviceStatus),
	}
}

// Add registers a device owned by a user with the given email.
func (r *InMemoryRepository) Add(d models.Device, ownerEmail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
	r.emails[d.UserID] = ownerEmail
}

// Statuses returns every status written for a device, oldest first.
func (r *InMemoryRepository) Statuses(id string) []models.DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.DeviceStatus(nil), r.history[id]...)
}

func (r *InMemoryRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &d, nil
}

func (r *InMemoryRepository) FindForUser(ctx context.Context, userID, id string) (*models.Device, error) {
	d, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return d, nil
}

func (r *InMemoryRepository) FindByAPIKey(ctx context.Context, apiKey string) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.APIKey == apiKey {
			return &d, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *InMemoryRepository) FindOwner(ctx context.Context, id string) (*models.DeviceOwner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.DeviceOwner{DeviceID: d.ID, Name: d.Name, PhoneNumber: d.PhoneNumber, Email: r.emails[d.UserID]}, nil
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) (*models.DeviceOwner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = append(r.history[id], status)
	d, ok := r.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now()
	r.devices[id] = d
	return &models.DeviceOwner{DeviceID: d.ID, Name: d.Name, PhoneNumber: d.PhoneNumber, Email: r.emails[d.UserID]}, nil
}
