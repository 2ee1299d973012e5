// Package ownership tracks which channels already have a handler, so a
// redelivered start event does not put two handlers on one call.
package ownership

import (
	"context"
	"sync"
)

// Registry hands out exclusive claims on channel ids.
type Registry interface {
	// Claim returns false when the channel is already owned.
	Claim(ctx context.Context, channelID string) (bool, error)
	Release(ctx context.Context, channelID string) error
}

// MemoryRegistry is a lock-guarded set of in-flight channel ids. It only
// dedups within one process.
type MemoryRegistry struct {
	mu     sync.Mutex
	owners map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{owners: make(map[string]struct{})}
}

func (r *MemoryRegistry) Claim(_ context.Context, channelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.owners[channelID]; taken {
		return false, nil
	}
	r.owners[channelID] = struct{}{}
	return true, nil
}

func (r *MemoryRegistry) Release(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, channelID)
	return nil
}

// Len is the number of channels currently claimed.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
