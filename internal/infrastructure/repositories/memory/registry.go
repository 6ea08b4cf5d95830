package memory

import (
	"context"
	"sync"
	"time"

	"streamrelay/internal/core/domain"
)

// Defaults mirror the latency of the on-chain registry this stands in for.
const (
	DefaultRegisterDelay = 500 * time.Millisecond
	DefaultLookupDelay   = 300 * time.Millisecond
)

// MemoryPeerRegistry keeps stable -> network identity mappings in process.
// Each call waits for a simulated latency before touching the map; waits do
// not hold the lock, so concurrent callers proceed in parallel.
type MemoryPeerRegistry struct {
	entries map[domain.StableID]domain.NetworkID
	mu      sync.RWMutex

	registerDelay time.Duration
	lookupDelay   time.Duration
}

func NewMemoryPeerRegistry(registerDelay, lookupDelay time.Duration) *MemoryPeerRegistry {
	return &MemoryPeerRegistry{
		entries:       make(map[domain.StableID]domain.NetworkID),
		registerDelay: registerDelay,
		lookupDelay:   lookupDelay,
	}
}

// Register stores networkID under stableID, replacing any previous value.
func (r *MemoryPeerRegistry) Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error {
	if err := wait(ctx, r.registerDelay); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[stableID] = networkID
	return nil
}

func (r *MemoryPeerRegistry) Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error) {
	if err := wait(ctx, r.lookupDelay); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	networkID, exists := r.entries[stableID]
	if !exists {
		return "", domain.ErrNotFound
	}
	return networkID, nil
}

// Len returns the number of registered identities.
func (r *MemoryPeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
