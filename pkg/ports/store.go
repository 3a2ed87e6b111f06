package ports

import (
	"context"

	"github.com/colloquyhq/colloquy/pkg/domain"
)

// SnapshotStore persists conversation snapshots keyed by session ID.
type SnapshotStore interface {
	// Save persists the snapshot for a session.
	Save(ctx context.Context, sessionID string, snap *domain.ConversationSnapshot) error

	// Load retrieves the snapshot for a session. Returns
	// domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.ConversationSnapshot, error)

	// Delete removes the snapshot for a session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the session IDs currently stored.
	List(ctx context.Context) ([]string, error)
}
