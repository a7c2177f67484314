package types

// DraftStatus is the lifecycle status of a document under review.
type DraftStatus string

const (
	DraftStatusDraft      DraftStatus = "draft"
	DraftStatusSubmitted  DraftStatus = "submitted"
	DraftStatusInProgress DraftStatus = "in_progress"
	DraftStatusApproved   DraftStatus = "approved"
	DraftStatusRejected   DraftStatus = "rejected"
	DraftStatusCancelled  DraftStatus = "cancelled"
)

// Terminal reports whether no further status transition is possible.
func (s DraftStatus) Terminal() bool {
	return s == DraftStatusApproved || s == DraftStatusRejected || s == DraftStatusCancelled
}

// StageType distinguishes gating stages, whose outcome decides the draft's
// final status, from notify-only stages, which inform recipients and can
// never block or reject.
type StageType string

const (
	StageTypeCooperation StageType = "cooperation"
	StageTypeApproval    StageType = "approval"
	StageTypeReference   StageType = "reference"
	StageTypeReception   StageType = "reception"
	StageTypeCirculation StageType = "circulation"
)

// Gating reports whether the stage's outcome affects the draft's final status.
func (t StageType) Gating() bool {
	return t == StageTypeCooperation || t == StageTypeApproval
}

// Valid reports whether t is one of the known stage types.
func (t StageType) Valid() bool {
	switch t {
	case StageTypeCooperation, StageTypeApproval, StageTypeReference, StageTypeReception, StageTypeCirculation:
		return true
	}
	return false
}

// StageMode controls approver eligibility within a stage.
type StageMode string

const (
	// ModeSequential makes approvers eligible one at a time, in order index order.
	ModeSequential StageMode = "sequential"
	// ModeParallel makes every approver in the stage eligible at once.
	ModeParallel StageMode = "parallel"
)

// StageRule is the completion policy of a stage.
type StageRule string

const (
	// RuleAll completes the stage only when every approver approved; the first
	// rejection rejects the stage.
	RuleAll StageRule = "all"
	// RuleAny completes the stage on the first approval; the stage is rejected
	// only if every approver rejected.
	RuleAny StageRule = "any"
)

// StageStatus is the runtime status of a stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusRejected  StageStatus = "rejected"
	StageStatusSkipped   StageStatus = "skipped"
)

// Terminal reports whether the stage can no longer change status.
func (s StageStatus) Terminal() bool {
	return s == StageStatusCompleted || s == StageStatusRejected || s == StageStatusSkipped
}

// ApproverStatus is the runtime status of one approver slot.
type ApproverStatus string

const (
	ApproverStatusPending  ApproverStatus = "pending"
	ApproverStatusApproved ApproverStatus = "approved"
	ApproverStatusRejected ApproverStatus = "rejected"
	ApproverStatusSkipped  ApproverStatus = "skipped"
)

// Terminal reports whether the approver slot can no longer change status.
func (s ApproverStatus) Terminal() bool {
	return s == ApproverStatusApproved || s == ApproverStatusRejected || s == ApproverStatusSkipped
}

// ActionKind is the kind of an audit-log entry.
type ActionKind string

const (
	ActionSubmit  ActionKind = "submit"
	ActionApprove ActionKind = "approve"
	ActionReject  ActionKind = "reject"
	ActionComment ActionKind = "comment"
	ActionCancel  ActionKind = "cancel"
)

// Decision is an approver's vote on a stage.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Draft is the document under review. Content is opaque to the engine and
// mutable only while the status is "draft".
type Draft struct {
	ID          uint64                 `json:"id"`
	Owner       uint64                 `json:"owner"`
	Category    string                 `json:"category"`
	Title       string                 `json:"title"`
	Content     map[string]interface{} `json:"content"`
	Status      DraftStatus            `json:"status"`
	SubmittedAt int64                  `json:"submitted_at,omitempty"`
	CompletedAt int64                  `json:"completed_at,omitempty"`
}

// Route is the concrete approval path owned by exactly one draft.
type Route struct {
	ID      uint64 `json:"id"`
	DraftID uint64 `json:"draft_id"`
}

// Stage is one ordered step of a route.
type Stage struct {
	ID      uint64      `json:"id"`
	RouteID uint64      `json:"route_id"`
	Order   int         `json:"order"`
	Type    StageType   `json:"type"`
	Mode    StageMode   `json:"mode"`
	Rule    StageRule   `json:"rule"`
	Status  StageStatus `json:"status"`
	Name    string      `json:"name"`
}

// Approver is one reviewer slot within a stage. Order is meaningful only
// under sequential mode.
type Approver struct {
	ID      uint64         `json:"id"`
	StageID uint64         `json:"stage_id"`
	UserID  uint64         `json:"user_id"`
	Order   int            `json:"order"`
	Status  ApproverStatus `json:"status"`
	ActedAt int64          `json:"acted_at,omitempty"`
	Comment string         `json:"comment,omitempty"`
}

// Action is an immutable audit record; actions are only ever appended.
type Action struct {
	ID        uint64     `json:"id"`
	DraftID   uint64     `json:"draft_id"`
	Actor     uint64     `json:"actor"`
	Kind      ActionKind `json:"kind"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt int64      `json:"created_at"`
}

// StageSpec is a caller-supplied stage definition used when submitting
// without a stored template.
type StageSpec struct {
	Type      StageType `json:"type"`
	Mode      StageMode `json:"mode"`
	Rule      StageRule `json:"rule"`
	Name      string    `json:"name"`
	Condition string    `json:"condition,omitempty"` // optional guard; false skips the stage
	Approvers []uint64  `json:"approvers"`           // user ids, ordered
}

// RouteTemplate is a reusable, named route definition for a document
// category. Instantiation copies it by value, so later template edits never
// affect in-flight drafts.
type RouteTemplate struct {
	ID       uint64          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Stages   []StageTemplate `json:"stages"`
}

// Clone returns a copy of the template that shares no slice backing with
// the original.
func (t RouteTemplate) Clone() RouteTemplate {
	out := t
	if t.Stages != nil {
		out.Stages = make([]StageTemplate, len(t.Stages))
		for i, st := range t.Stages {
			out.Stages[i] = st
			if st.Approvers != nil {
				out.Stages[i].Approvers = append([]uint64(nil), st.Approvers...)
			}
		}
	}
	return out
}

// StageTemplate is one stage definition inside a route template.
type StageTemplate struct {
	Order     int       `json:"order"`
	Type      StageType `json:"type"`
	Mode      StageMode `json:"mode"`
	Rule      StageRule `json:"rule"`
	Name      string    `json:"name"`
	Condition string    `json:"condition,omitempty"`
	Approvers []uint64  `json:"approvers"`
}

// Snapshot is the full persisted state of one draft: the draft itself, its
// route tree and its action history, plus a version counter used for
// optimistic concurrency control on commit.
type Snapshot struct {
	Draft     Draft      `json:"draft"`
	Route     *Route     `json:"route,omitempty"`
	Stages    []Stage    `json:"stages,omitempty"`
	Approvers []Approver `json:"approvers,omitempty"`
	Actions   []Action   `json:"actions,omitempty"`
	Version   uint64     `json:"version"`
}

// Clone returns a copy of the snapshot that shares no slice or map backing
// with the original. Record structs are value types, so copying the slices
// is enough; the draft content map is copied one level deep.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Route != nil {
		route := *s.Route
		out.Route = &route
	}
	if s.Stages != nil {
		out.Stages = append([]Stage(nil), s.Stages...)
	}
	if s.Approvers != nil {
		out.Approvers = append([]Approver(nil), s.Approvers...)
	}
	if s.Actions != nil {
		out.Actions = append([]Action(nil), s.Actions...)
	}
	if s.Draft.Content != nil {
		content := make(map[string]interface{}, len(s.Draft.Content))
		for k, v := range s.Draft.Content {
			content[k] = v
		}
		out.Draft.Content = content
	}
	return out
}

// StageApprovers returns the approvers of one stage. Approvers are stored
// ordered per stage, so a linear filter preserves order index order.
func (s *Snapshot) StageApprovers(stageID uint64) []Approver {
	var out []Approver
	for _, a := range s.Approvers {
		if a.StageID == stageID {
			out = append(out, a)
		}
	}
	return out
}
