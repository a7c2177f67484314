package engine

import (
	"fmt"

	"github.com/hrsuite/approval-engine/events"
	"github.com/hrsuite/approval-engine/types"
)

// StageOutcome is the result of one approver action on a stage.
type StageOutcome string

const (
	// OutcomeContinue means the stage is still waiting on approvers.
	OutcomeContinue StageOutcome = "continue"
	// OutcomeCompleted means the stage reached its completion rule.
	OutcomeCompleted StageOutcome = "completed"
	// OutcomeRejected means the stage was rejected under its rule.
	OutcomeRejected StageOutcome = "rejected"
)

// activateNext activates the lowest-order stage still pending. Notify-only
// stages complete immediately once their recipients are notified, so the
// scan continues past them until a gating stage activates or no pending
// stage remains. At most one stage is active at any time.
func (e *Engine) activateNext(snap *types.Snapshot) []events.Event {
	var evs []events.Event
	for {
		stage := lowestPendingStage(snap)
		if stage == nil {
			return evs
		}

		if !stage.Type.Gating() {
			// Recipients are notified via the activation event; nothing
			// blocks on their response.
			evs = append(evs, stageActivatedEvent(snap, stage, approverUserIDs(snap, stage.ID)))
			for i := range snap.Approvers {
				if snap.Approvers[i].StageID == stage.ID && snap.Approvers[i].Status == types.ApproverStatusPending {
					snap.Approvers[i].Status = types.ApproverStatusSkipped
				}
			}
			stage.Status = types.StageStatusCompleted
			continue
		}

		stage.Status = types.StageStatusActive
		return append(evs, stageActivatedEvent(snap, stage, eligibleUserIDs(snap, stage)))
	}
}

// recordApproverAction applies one approver's decision to the currently
// active stage and evaluates the stage's completion rule.
func (e *Engine) recordApproverAction(snap *types.Snapshot, userID uint64, decision types.Decision, comment string, now int64) (StageOutcome, error) {
	if snap.Draft.Status != types.DraftStatusInProgress {
		return "", fmt.Errorf("%w: draft %d is in status %s", ErrInvalidState, snap.Draft.ID, snap.Draft.Status)
	}

	stage := activeStage(snap)
	if stage == nil {
		return "", fmt.Errorf("%w: draft %d has no active stage", ErrInvalidState, snap.Draft.ID)
	}

	approver := pendingApprover(snap, stage.ID, userID)
	if approver == nil {
		// A vote aimed at an already-resolved stage is a state problem, not
		// an authorization one.
		if hasResolvedSlot(snap, userID) {
			return "", fmt.Errorf("%w: user %d's stage is already resolved", ErrInvalidState, userID)
		}
		return "", fmt.Errorf("%w: user %d is not an approver of the active stage", ErrPermission, userID)
	}

	if stage.Mode == types.ModeSequential {
		for _, a := range snap.Approvers {
			if a.StageID == stage.ID && a.Status == types.ApproverStatusPending && a.Order < approver.Order {
				return "", fmt.Errorf("%w: user %d must wait for approver order %d", ErrPermission, userID, a.Order)
			}
		}
	}

	approver.ActedAt = now
	approver.Comment = comment
	if decision == types.DecisionApprove {
		approver.Status = types.ApproverStatusApproved
	} else {
		approver.Status = types.ApproverStatusRejected
	}

	return evaluateStage(snap, stage), nil
}

// evaluateStage applies the stage's completion rule after an approver acted.
// A terminal outcome short-circuits the remaining pending approvers to
// skipped.
func evaluateStage(snap *types.Snapshot, stage *types.Stage) StageOutcome {
	var approved, rejected, pending int
	for _, a := range snap.Approvers {
		if a.StageID != stage.ID {
			continue
		}
		switch a.Status {
		case types.ApproverStatusApproved:
			approved++
		case types.ApproverStatusRejected:
			rejected++
		case types.ApproverStatusPending:
			pending++
		}
	}

	var outcome StageOutcome
	switch stage.Rule {
	case types.RuleAll:
		switch {
		case rejected > 0:
			outcome = OutcomeRejected
		case pending == 0:
			outcome = OutcomeCompleted
		default:
			outcome = OutcomeContinue
		}
	case types.RuleAny:
		switch {
		case approved > 0:
			outcome = OutcomeCompleted
		case pending == 0:
			outcome = OutcomeRejected
		default:
			outcome = OutcomeContinue
		}
	default:
		outcome = OutcomeContinue
	}

	switch outcome {
	case OutcomeCompleted, OutcomeRejected:
		for i := range snap.Approvers {
			if snap.Approvers[i].StageID == stage.ID && snap.Approvers[i].Status == types.ApproverStatusPending {
				snap.Approvers[i].Status = types.ApproverStatusSkipped
			}
		}
		if outcome == OutcomeCompleted {
			stage.Status = types.StageStatusCompleted
		} else {
			stage.Status = types.StageStatusRejected
		}
	}
	return outcome
}

// lowestPendingStage returns the pending stage with the lowest order index.
func lowestPendingStage(snap *types.Snapshot) *types.Stage {
	var found *types.Stage
	for i := range snap.Stages {
		st := &snap.Stages[i]
		if st.Status != types.StageStatusPending {
			continue
		}
		if found == nil || st.Order < found.Order {
			found = st
		}
	}
	return found
}

// activeStage returns the currently active stage, or nil.
func activeStage(snap *types.Snapshot) *types.Stage {
	for i := range snap.Stages {
		if snap.Stages[i].Status == types.StageStatusActive {
			return &snap.Stages[i]
		}
	}
	return nil
}

// pendingApprover returns the user's pending slot in the given stage, or nil.
func pendingApprover(snap *types.Snapshot, stageID, userID uint64) *types.Approver {
	for i := range snap.Approvers {
		a := &snap.Approvers[i]
		if a.StageID == stageID && a.UserID == userID && a.Status == types.ApproverStatusPending {
			return a
		}
	}
	return nil
}

// hasResolvedSlot reports whether the user holds any approver slot in a
// stage that has already reached a terminal status.
func hasResolvedSlot(snap *types.Snapshot, userID uint64) bool {
	for _, a := range snap.Approvers {
		if a.UserID != userID {
			continue
		}
		for _, st := range snap.Stages {
			if st.ID == a.StageID && st.Status.Terminal() {
				return true
			}
		}
	}
	return false
}

// eligibleUserIDs returns who may act on an active stage right now: every
// pending approver under parallel mode, only the lowest pending order under
// sequential mode.
func eligibleUserIDs(snap *types.Snapshot, stage *types.Stage) []uint64 {
	approvers := snap.StageApprovers(stage.ID)
	var ids []uint64
	var lowest *types.Approver
	for i := range approvers {
		a := &approvers[i]
		if a.Status != types.ApproverStatusPending {
			continue
		}
		if stage.Mode == types.ModeParallel {
			ids = append(ids, a.UserID)
			continue
		}
		if lowest == nil || a.Order < lowest.Order {
			lowest = a
		}
	}
	if stage.Mode == types.ModeSequential && lowest != nil {
		ids = append(ids, lowest.UserID)
	}
	return ids
}

// approverUserIDs returns every user assigned to a stage, in order.
func approverUserIDs(snap *types.Snapshot, stageID uint64) []uint64 {
	var ids []uint64
	for _, a := range snap.StageApprovers(stageID) {
		ids = append(ids, a.UserID)
	}
	return ids
}

func stageActivatedEvent(snap *types.Snapshot, stage *types.Stage, userIDs []uint64) events.Event {
	return events.Event{
		Type:    EventStageActivated,
		DraftID: snap.Draft.ID,
		Data: map[string]interface{}{
			"stage_id":   stage.ID,
			"stage_type": string(stage.Type),
			"stage_name": stage.Name,
			"users":      userIDs,
		},
	}
}
