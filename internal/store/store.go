package store

import (
	"context"
	"errors"

	"github.com/novolei/HChat-sub000/internal/models"
)

// ErrNotFound is returned when no pending record exists for an ID.
var ErrNotFound = errors.New("store: message not found")

// PendingStore persists messages whose delivery is unresolved. It is the
// single source of truth for retry decisions; UI-facing message lists are
// derived projections and must never drive a retry. Both SQLiteStore and
// MemoryStore implement this interface.
type PendingStore interface {
	// Put inserts or replaces the pending record for msg.ID.
	Put(ctx context.Context, msg *models.ChatMessage) error

	// Get loads one pending record, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.ChatMessage, error)

	// Update re-persists status and retry bookkeeping for an existing record.
	Update(ctx context.Context, msg *models.ChatMessage) error

	// Delete removes a resolved or permanently failed record.
	Delete(ctx context.Context, id string) error

	// ListPending returns every unresolved record in persistence order.
	ListPending(ctx context.Context) ([]*models.ChatMessage, error)

	// Count returns the number of unresolved records.
	Count(ctx context.Context) (int, error)

	Close() error
}
