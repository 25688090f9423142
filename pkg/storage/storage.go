package storage

import (
	"context"
)

// SnapshotStore is the persistence medium for the engine's single world snapshot.
// The snapshot format is opaque bytes; only the round trip is contractual.
type SnapshotStore interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// SaveSnapshot replaces the stored snapshot
	SaveSnapshot(ctx context.Context, data []byte) error

	// LoadSnapshot returns the stored snapshot.
	// Returns nil, nil if no snapshot has been written yet.
	LoadSnapshot(ctx context.Context) ([]byte, error)
}
