package profile

import (
	"context"
	"sync"

	"github.com/dkeye/Mingle/internal/domain"
)

// MemoryDirectory backs dev mode and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.Profile
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[domain.UserID]domain.Profile)}
}

func (d *MemoryDirectory) Put(p domain.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
}

func (d *MemoryDirectory) Lookup(_ context.Context, uid domain.UserID) (*domain.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
