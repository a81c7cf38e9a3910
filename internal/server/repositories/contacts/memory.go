package contacts

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/wagate/internal/common"
)

type InMemoryRepository struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{names: make(map[string]string)}
}

func (r *InMemoryRepository) Add(userID, phoneNumber, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[userID+"|"+phoneNumber] = name
}

func (r *InMemoryRepository) FindName(ctx context.Context, userID, phoneNumber string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[userID+"|"+phoneNumber]
	if !ok {
		return "", common.ErrorNotFound
	}
	return name, nil
}
