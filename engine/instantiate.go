package engine

import (
	"context"
	"fmt"

	"github.com/hrsuite/approval-engine/types"
)

// instantiateRoute materializes the approval route for a draft from a stored
// template or an explicit stage list. Templates are copied by value: the
// runtime route, stages and approvers get fresh ids and share nothing with
// the template, so later template edits never touch in-flight drafts.
//
// Validation happens before any record is added to the snapshot, so a
// validation failure leaves the draft untouched.
func (e *Engine) instantiateRoute(ctx context.Context, snap *types.Snapshot, spec RouteSpec) error {
	if snap.Route != nil {
		return fmt.Errorf("%w: draft %d already owns a route", ErrValidation, snap.Draft.ID)
	}

	specs := spec.Stages
	if len(specs) == 0 {
		if spec.TemplateID == 0 {
			return fmt.Errorf("%w: no template and no stages supplied", ErrValidation)
		}
		tpl, err := e.storage.GetTemplate(ctx, spec.TemplateID)
		if err != nil {
			return err
		}
		specs, err = templateStageSpecs(tpl)
		if err != nil {
			return err
		}
	}

	if err := validateStageSpecs(specs); err != nil {
		return err
	}

	// Evaluate guard conditions against the draft content before creating
	// anything; a broken condition is a validation failure, not a half-built
	// route.
	skipped := make([]bool, len(specs))
	gatingLeft := 0
	for i, sp := range specs {
		if sp.Condition != "" {
			ok, err := e.evaluator.Evaluate(sp.Condition, snap.Draft.Content)
			if err != nil {
				return fmt.Errorf("%w: stage %d condition: %v", ErrValidation, i+1, err)
			}
			skipped[i] = !ok
		}
		if sp.Type.Gating() && !skipped[i] {
			gatingLeft++
		}
	}
	if gatingLeft == 0 {
		return fmt.Errorf("%w: no gating stage remains after guard evaluation", ErrValidation)
	}

	routeID, err := e.generate.NextID()
	if err != nil {
		return fmt.Errorf("failed to generate ID: %w", err)
	}
	snap.Route = &types.Route{ID: routeID, DraftID: snap.Draft.ID}

	for i, sp := range specs {
		stageID, err := e.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate ID: %w", err)
		}

		status := types.StageStatusPending
		// Notify-only stages without recipients have nothing to do.
		if skipped[i] || (len(sp.Approvers) == 0 && !sp.Type.Gating()) {
			status = types.StageStatusSkipped
		}

		snap.Stages = append(snap.Stages, types.Stage{
			ID:      stageID,
			RouteID: routeID,
			Order:   i + 1,
			Type:    sp.Type,
			Mode:    normalizeMode(sp.Mode),
			Rule:    normalizeRule(sp.Rule),
			Status:  status,
			Name:    sp.Name,
		})

		for j, userID := range sp.Approvers {
			approverID, err := e.generate.NextID()
			if err != nil {
				return fmt.Errorf("failed to generate ID: %w", err)
			}
			approverStatus := types.ApproverStatusPending
			if status == types.StageStatusSkipped {
				approverStatus = types.ApproverStatusSkipped
			}
			snap.Approvers = append(snap.Approvers, types.Approver{
				ID:      approverID,
				StageID: stageID,
				UserID:  userID,
				Order:   j + 1,
				Status:  approverStatus,
			})
		}
	}
	return nil
}

// validateStageSpecs checks an ordered stage list: known types and modes, at
// least one gating stage, at least one approver per gating stage, no user
// listed twice within a stage.
func validateStageSpecs(specs []types.StageSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: route has no stages", ErrValidation)
	}

	hasGating := false
	for i, sp := range specs {
		if !sp.Type.Valid() {
			return fmt.Errorf("%w: stage %d has unknown type %q", ErrValidation, i+1, sp.Type)
		}
		if m := normalizeMode(sp.Mode); m != types.ModeSequential && m != types.ModeParallel {
			return fmt.Errorf("%w: stage %d has unknown mode %q", ErrValidation, i+1, sp.Mode)
		}
		if r := normalizeRule(sp.Rule); r != types.RuleAll && r != types.RuleAny {
			return fmt.Errorf("%w: stage %d has unknown rule %q", ErrValidation, i+1, sp.Rule)
		}
		if sp.Type.Gating() {
			hasGating = true
			if len(sp.Approvers) == 0 {
				return fmt.Errorf("%w: gating stage %d has no approvers", ErrValidation, i+1)
			}
		}
		seen := make(map[uint64]bool, len(sp.Approvers))
		for _, userID := range sp.Approvers {
			if seen[userID] {
				return fmt.Errorf("%w: stage %d lists user %d twice", ErrValidation, i+1, userID)
			}
			seen[userID] = true
		}
	}
	if !hasGating {
		return fmt.Errorf("%w: route has no gating stage", ErrValidation)
	}
	return nil
}

// templateStageSpecs flattens a template into the common stage-spec form,
// ordered by the template's order indices, which must be unique and
// contiguous from 1.
func templateStageSpecs(tpl types.RouteTemplate) ([]types.StageSpec, error) {
	byOrder := make(map[int]types.StageTemplate, len(tpl.Stages))
	for _, st := range tpl.Stages {
		if _, dup := byOrder[st.Order]; dup {
			return nil, fmt.Errorf("%w: template %d has duplicate order index %d", ErrValidation, tpl.ID, st.Order)
		}
		byOrder[st.Order] = st
	}

	specs := make([]types.StageSpec, 0, len(tpl.Stages))
	for i := 1; i <= len(tpl.Stages); i++ {
		st, ok := byOrder[i]
		if !ok {
			return nil, fmt.Errorf("%w: template %d order indices are not contiguous, missing %d", ErrValidation, tpl.ID, i)
		}
		specs = append(specs, types.StageSpec{
			Type:      st.Type,
			Mode:      st.Mode,
			Rule:      st.Rule,
			Name:      st.Name,
			Condition: st.Condition,
			Approvers: append([]uint64(nil), st.Approvers...),
		})
	}
	return specs, nil
}

func normalizeMode(m types.StageMode) types.StageMode {
	if m == "" {
		return types.ModeParallel
	}
	return m
}

func normalizeRule(r types.StageRule) types.StageRule {
	if r == "" {
		return types.RuleAll
	}
	return r
}
