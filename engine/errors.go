package engine

import "errors"

// Standard error definitions
var (
	// ErrValidation marks a malformed route specification or template: no
	// gating stage, broken order indices, empty approver list on a gating
	// stage. Nothing is mutated; the caller can correct and resubmit.
	ErrValidation = errors.New("invalid route specification")

	// ErrInvalidState marks an operation attempted against a draft that is
	// not in the required status, such as saving a submitted draft or acting
	// on an already-resolved stage.
	ErrInvalidState = errors.New("operation not allowed in current draft state")

	// ErrPermission marks an action by an approver who is not currently
	// eligible, either because no stage is waiting on them or because
	// sequential ordering has not reached them yet.
	ErrPermission = errors.New("approver is not eligible to act")
)
