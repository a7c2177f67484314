package engine

import (
	"github.com/hrsuite/approval-engine/events"
	"github.com/hrsuite/approval-engine/types"
)

// advance rolls the per-stage outcomes up into the draft's overall status.
// It is idempotent: advancing an already-terminal draft changes nothing.
//
// A rejected gating stage halts the route: every unresolved stage and
// approver is skipped and the draft is rejected. Otherwise the next stage is
// activated, and the draft is approved once no gating work remains.
func (e *Engine) advance(snap *types.Snapshot, now int64) []events.Event {
	if snap.Draft.Status.Terminal() {
		return nil
	}

	for _, st := range snap.Stages {
		if st.Status == types.StageStatusRejected && st.Type.Gating() {
			skipRemaining(snap)
			return setDraftStatus(snap, types.DraftStatusRejected, now)
		}
	}

	evs := e.activateNext(snap)
	if activeStage(snap) != nil {
		return evs
	}

	// No stage active and none pending: the route ran to completion.
	return append(evs, setDraftStatus(snap, types.DraftStatusApproved, now)...)
}
