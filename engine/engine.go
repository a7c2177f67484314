package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/hrsuite/approval-engine/events"
	"github.com/hrsuite/approval-engine/rules"
	"github.com/hrsuite/approval-engine/storage"
	"github.com/hrsuite/approval-engine/types"
)

// Event types published on the engine's bus.
const (
	// EventDraftStatusChanged fires once per draft status transition with
	// "old" and "new" status strings in the payload.
	EventDraftStatusChanged = "draft_status_changed"
	// EventStageActivated fires when a stage becomes the current step, with
	// the stage id, type, name and the user ids eligible (or notified, for
	// notify-only stages) in the payload.
	EventStageActivated = "stage_activated"
)

// defaultMaxRetries bounds how often a conflicted commit is retried before
// the conflict surfaces to the caller.
const defaultMaxRetries = 3

// RouteSpec tells Submit how to build the approval route: either by
// instantiating a stored template or from an explicit ordered stage list.
// Stages wins when both are set.
type RouteSpec struct {
	TemplateID uint64
	Stages     []types.StageSpec
}

// Engine is the facade collaborators call: it orchestrates route
// instantiation, stage execution, status aggregation and action recording
// behind submit/act/comment/cancel operations.
type Engine struct {
	storage    storage.Storage
	eventBus   *events.Bus
	generate   generator.Generator
	evaluator  rules.Evaluator
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries sets how often a conflicted commit is retried.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates an approval engine with the given ID generator, storage
// and guard-condition evaluator. Storage defaults to in-memory and the
// evaluator to the expr-based one when nil.
func NewEngine(generate generator.Generator, store storage.Storage, evaluator rules.Evaluator, options ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}

	e := &Engine{
		storage:    store,
		eventBus:   events.NewBus(),
		generate:   generate,
		evaluator:  evaluator,
		maxRetries: defaultMaxRetries,
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.Handler) {
	e.eventBus.Subscribe(eventType, handler)
}

// RegisterTemplate validates and persists a reusable route template.
// Validation applies the same rules as route instantiation, minus guard
// evaluation, which needs a concrete draft.
func (e *Engine) RegisterTemplate(ctx context.Context, tpl types.RouteTemplate) error {
	if tpl.ID == 0 {
		return fmt.Errorf("%w: template ID cannot be zero", ErrValidation)
	}
	specs, err := templateStageSpecs(tpl)
	if err != nil {
		return err
	}
	if err := validateStageSpecs(specs); err != nil {
		return err
	}
	return e.storage.SaveTemplate(ctx, tpl)
}

// GetTemplate retrieves a route template by ID.
func (e *Engine) GetTemplate(ctx context.Context, id uint64) (types.RouteTemplate, error) {
	return e.storage.GetTemplate(ctx, id)
}

// CreateDraft creates a new document in draft status. No route exists yet;
// content stays mutable until the draft is submitted.
func (e *Engine) CreateDraft(ctx context.Context, owner uint64, category, title string, content map[string]interface{}) (*types.Draft, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	draft := types.Draft{
		ID:       id,
		Owner:    owner,
		Category: category,
		Title:    title,
		Content:  content,
		Status:   types.DraftStatusDraft,
	}
	if err := e.storage.CreateDraft(ctx, types.Snapshot{Draft: draft, Version: 1}); err != nil {
		return nil, err
	}
	return &draft, nil
}

// SaveDraft replaces the draft's content. Allowed only while the draft has
// not been submitted.
func (e *Engine) SaveDraft(ctx context.Context, draftID uint64, content map[string]interface{}) error {
	return e.update(ctx, draftID, func(snap *types.Snapshot) ([]events.Event, error) {
		if snap.Draft.Status != types.DraftStatusDraft {
			return nil, fmt.Errorf("%w: cannot save draft %d in status %s", ErrInvalidState, draftID, snap.Draft.Status)
		}
		snap.Draft.Content = content
		return nil, nil
	})
}

// Submit instantiates the approval route for the draft and activates its
// first stage. The draft moves draft -> submitted -> in_progress within the
// one operation, and a submit action is recorded.
func (e *Engine) Submit(ctx context.Context, draftID, actor uint64, spec RouteSpec) error {
	return e.update(ctx, draftID, func(snap *types.Snapshot) ([]events.Event, error) {
		if snap.Draft.Status != types.DraftStatusDraft {
			return nil, fmt.Errorf("%w: cannot submit draft %d in status %s", ErrInvalidState, draftID, snap.Draft.Status)
		}
		if err := e.instantiateRoute(ctx, snap, spec); err != nil {
			return nil, err
		}

		now := time.Now().UnixMilli()
		snap.Draft.SubmittedAt = now
		if err := e.appendAction(snap, actor, types.ActionSubmit, "", now); err != nil {
			return nil, err
		}

		evs := setDraftStatus(snap, types.DraftStatusSubmitted, now)
		evs = append(evs, setDraftStatus(snap, types.DraftStatusInProgress, now)...)
		return append(evs, e.advance(snap, now)...), nil
	})
}

// Act records one approver's decision on the draft's current stage, then
// re-evaluates stage completion and overall draft status.
func (e *Engine) Act(ctx context.Context, draftID, approverUserID uint64, decision types.Decision, comment string) error {
	if decision != types.DecisionApprove && decision != types.DecisionReject {
		return fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	return e.update(ctx, draftID, func(snap *types.Snapshot) ([]events.Event, error) {
		now := time.Now().UnixMilli()
		outcome, err := e.recordApproverAction(snap, approverUserID, decision, comment, now)
		if err != nil {
			return nil, err
		}

		kind := types.ActionApprove
		if decision == types.DecisionReject {
			kind = types.ActionReject
		}
		if err := e.appendAction(snap, approverUserID, kind, comment, now); err != nil {
			return nil, err
		}

		if outcome == OutcomeContinue {
			return nil, nil
		}
		return e.advance(snap, now), nil
	})
}

// Comment appends a comment action. Comments are allowed in every status,
// including terminal ones, and never change state.
func (e *Engine) Comment(ctx context.Context, draftID, actor uint64, text string) error {
	return e.update(ctx, draftID, func(snap *types.Snapshot) ([]events.Event, error) {
		now := time.Now().UnixMilli()
		if err := e.appendAction(snap, actor, types.ActionComment, text, now); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// Cancel irreversibly withdraws the draft. Remaining stages and approvers
// are skipped and a cancel action is recorded.
func (e *Engine) Cancel(ctx context.Context, draftID, actor uint64) error {
	return e.update(ctx, draftID, func(snap *types.Snapshot) ([]events.Event, error) {
		if snap.Draft.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot cancel draft %d in status %s", ErrInvalidState, draftID, snap.Draft.Status)
		}

		now := time.Now().UnixMilli()
		skipRemaining(snap)
		if err := e.appendAction(snap, actor, types.ActionCancel, "", now); err != nil {
			return nil, err
		}
		return setDraftStatus(snap, types.DraftStatusCancelled, now), nil
	})
}

// Snapshot returns the full current state of a draft: the draft record, its
// route tree and its action history.
func (e *Engine) Snapshot(ctx context.Context, draftID uint64) (types.Snapshot, error) {
	return e.storage.GetSnapshot(ctx, draftID)
}

// Stop gracefully stops the engine's event bus.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

// update runs fn against the draft's current snapshot and commits the result.
// On a version conflict the snapshot is reloaded and fn re-applied, a bounded
// number of times. Events returned by fn are published only after the commit
// succeeds, so notification failures can never affect committed state.
func (e *Engine) update(ctx context.Context, draftID uint64, fn func(snap *types.Snapshot) ([]events.Event, error)) error {
	var evs []events.Event
	for attempt := 0; ; attempt++ {
		snap, err := e.storage.GetSnapshot(ctx, draftID)
		if err != nil {
			return err
		}
		evs, err = fn(&snap)
		if err != nil {
			return err
		}
		err = e.storage.UpdateSnapshot(ctx, snap)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= e.maxRetries {
			return err
		}
	}

	for _, ev := range evs {
		// Fire-and-forget; a full channel or missing subscriber is not an
		// operation failure.
		_ = e.eventBus.Publish(ctx, ev)
	}
	return nil
}

// setDraftStatus transitions the draft and returns the matching status event.
// Terminal transitions stamp the completion time.
func setDraftStatus(snap *types.Snapshot, status types.DraftStatus, now int64) []events.Event {
	old := snap.Draft.Status
	snap.Draft.Status = status
	if status.Terminal() {
		snap.Draft.CompletedAt = now
	}
	return []events.Event{{
		Type:    EventDraftStatusChanged,
		DraftID: snap.Draft.ID,
		Data: map[string]interface{}{
			"old": string(old),
			"new": string(status),
		},
	}}
}

// skipRemaining marks every unresolved stage and approver as skipped.
func skipRemaining(snap *types.Snapshot) {
	for i := range snap.Stages {
		if !snap.Stages[i].Status.Terminal() {
			snap.Stages[i].Status = types.StageStatusSkipped
		}
	}
	for i := range snap.Approvers {
		if !snap.Approvers[i].Status.Terminal() {
			snap.Approvers[i].Status = types.ApproverStatusSkipped
		}
	}
}

// sortActions orders actions by timestamp ascending, ties kept in insertion
// order.
func sortActions(actions []types.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt < actions[j].CreatedAt
	})
}
