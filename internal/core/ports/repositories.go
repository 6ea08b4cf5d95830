package ports

import (
	"context"

	"streamrelay/internal/core/domain"
)

// PeerRegistry maps a stable identity to the network identity a node is
// currently reachable at. Lookup returns domain.ErrNotFound on a miss.
type PeerRegistry interface {
	Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error
	Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error)
}
