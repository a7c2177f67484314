package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hrsuite/approval-engine/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Snapshots are cloned on the way in and out so callers never share backing
// slices with the stored state.
type MemoryStorage struct {
	templates map[uint64]types.RouteTemplate
	snapshots map[uint64]types.Snapshot
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		templates: make(map[uint64]types.RouteTemplate),
		snapshots: make(map[uint64]types.Snapshot),
	}
}

// SaveTemplate stores a route template in memory.
func (s *MemoryStorage) SaveTemplate(ctx context.Context, tpl types.RouteTemplate) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.templates[tpl.ID] = tpl.Clone()
		return nil
	})
}

// GetTemplate retrieves a route template from memory.
func (s *MemoryStorage) GetTemplate(ctx context.Context, id uint64) (types.RouteTemplate, error) {
	return withContext(ctx, func() (types.RouteTemplate, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		tpl, ok := s.templates[id]
		if !ok {
			return types.RouteTemplate{}, fmt.Errorf("%w: id=%d", ErrTemplateNotFound, id)
		}
		return tpl.Clone(), nil
	})
}

// CreateDraft stores the initial snapshot of a new draft.
func (s *MemoryStorage) CreateDraft(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.snapshots[snap.Draft.ID]; ok {
			return fmt.Errorf("%w: draft %d already exists", ErrConflict, snap.Draft.ID)
		}
		s.snapshots[snap.Draft.ID] = snap.Clone()
		return nil
	})
}

// GetSnapshot retrieves the current snapshot of a draft from memory.
func (s *MemoryStorage) GetSnapshot(ctx context.Context, draftID uint64) (types.Snapshot, error) {
	return withContext(ctx, func() (types.Snapshot, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		snap, ok := s.snapshots[draftID]
		if !ok {
			return types.Snapshot{}, fmt.Errorf("%w: id=%d", ErrDraftNotFound, draftID)
		}
		return snap.Clone(), nil
	})
}

// UpdateSnapshot commits a mutated snapshot with a version check.
func (s *MemoryStorage) UpdateSnapshot(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.snapshots[snap.Draft.ID]
		if !ok {
			return fmt.Errorf("%w: id=%d", ErrDraftNotFound, snap.Draft.ID)
		}
		if cur.Version != snap.Version {
			return fmt.Errorf("%w: draft %d read at version %d, stored version %d",
				ErrConflict, snap.Draft.ID, snap.Version, cur.Version)
		}
		next := snap.Clone()
		next.Version++
		s.snapshots[snap.Draft.ID] = next
		return nil
	})
}
