package engine

import (
	"context"
	"fmt"

	"github.com/hrsuite/approval-engine/types"
)

// appendAction appends an immutable audit record to the draft's history.
// Every state-changing operation records its action inside the same snapshot
// commit, so the log and the state can never drift apart.
func (e *Engine) appendAction(snap *types.Snapshot, actor uint64, kind types.ActionKind, comment string, now int64) error {
	id, err := e.generate.NextID()
	if err != nil {
		return fmt.Errorf("failed to generate ID: %w", err)
	}
	snap.Actions = append(snap.Actions, types.Action{
		ID:        id,
		DraftID:   snap.Draft.ID,
		Actor:     actor,
		Kind:      kind,
		Comment:   comment,
		CreatedAt: now,
	})
	return nil
}

// History returns the draft's full action log ordered by timestamp
// ascending, ties broken by insertion order.
func (e *Engine) History(ctx context.Context, draftID uint64) ([]types.Action, error) {
	snap, err := e.storage.GetSnapshot(ctx, draftID)
	if err != nil {
		return nil, err
	}
	actions := append([]types.Action(nil), snap.Actions...)
	sortActions(actions)
	return actions, nil
}
