package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
)

type key struct {
	deviceID string
	filename string
}

// InMemoryRepository keeps records in a map. It backs tests and local runs
// without a database.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[key]models.SessionRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[key]models.SessionRecord)}
}

func (r *InMemoryRepository) Upsert(ctx context.Context, rec *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := *rec
	v.UpdatedAt = time.Now()
	r.records[key{rec.DeviceID, rec.Filename}] = v
	return nil
}

func (r *InMemoryRepository) Find(ctx context.Context, deviceID, filename string) (*models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.records[key{deviceID, filename}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &v, nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, deviceID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key{deviceID, filename})
	return nil
}

func (r *InMemoryRepository) DeleteAll(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.records {
		if k.deviceID == deviceID {
			delete(r.records, k)
		}
	}
	return nil
}

func (r *InMemoryRepository) ListDeviceIDs(ctx context.Context, filename string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for k := range r.records {
		if k.filename == filename {
			ids = append(ids, k.deviceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of records stored for a device.
func (r *InMemoryRepository) Count(deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.records {
		if k.deviceID == deviceID {
			n++
		}
	}
	return n
}
