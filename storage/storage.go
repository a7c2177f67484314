package storage

import (
	"context"
	"errors"

	"github.com/hrsuite/approval-engine/types"
)

// Errors
var (
	ErrTemplateNotFound = errors.New("route template not found")
	ErrDraftNotFound    = errors.New("draft not found")
	// ErrConflict is returned when a snapshot commit loses an optimistic
	// concurrency race, or when a draft id is created twice. The engine
	// retries conflicted commits a bounded number of times.
	ErrConflict = errors.New("snapshot version conflict")
)

// Storage persists route templates and per-draft snapshots. A snapshot
// bundles the draft, its route tree and its action history so that submit,
// act and cancel can commit all of their record changes as one atomic unit.
type Storage interface {
	// SaveTemplate stores a reusable route template.
	SaveTemplate(ctx context.Context, tpl types.RouteTemplate) error

	// GetTemplate retrieves a route template by ID.
	GetTemplate(ctx context.Context, id uint64) (types.RouteTemplate, error)

	// CreateDraft stores the initial snapshot of a new draft. Fails with
	// ErrConflict if the draft id already exists.
	CreateDraft(ctx context.Context, snap types.Snapshot) error

	// GetSnapshot retrieves the current snapshot of a draft.
	GetSnapshot(ctx context.Context, draftID uint64) (types.Snapshot, error)

	// UpdateSnapshot commits a mutated snapshot. snap.Version must be the
	// version the caller read; the stored version is incremented on success.
	// A stale version fails with ErrConflict and leaves state untouched.
	// Actions are append-only: entries already persisted are never rewritten.
	UpdateSnapshot(ctx context.Context, snap types.Snapshot) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
