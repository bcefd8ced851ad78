package workflow

import (
	"errors"
)

// Action enumerates what a purchase order is allowed to undergo while it
// sits in a given stage.
type Action string

const (
	ActionEdit    Action = "edit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Stage codes of the purchase order approval pipeline.
const (
	StageDraft           = "DRAFT"
	StagePendingApproval = "PENDING_APPROVAL"
	StageApprovedL1      = "APPROVED_L1"
	StageApprovedFinal   = "APPROVED_FINAL"
	StageOrdered         = "ORDERED"
	StageCancelled       = "CANCELLED"
)

// Stage is a named step in the approval pipeline. Code is the stable
// identifier; Sequence orders stages for display only and plays no part in
// transition logic.
type Stage struct {
	ID             int64    `json:"id"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Sequence       int      `json:"sequence"`
	AllowedActions []Action `json:"allowed_actions"`
	IsActive       bool     `json:"is_active"`
}

// Allows reports whether the given action is permitted in this stage.
func (s Stage) Allows(action Action) bool {
	for _, a := range s.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

var (
	// ErrStageNotFound indicates the registry has no stage with the code.
	ErrStageNotFound = errors.New("workflow: stage not found")
	// ErrInvalidTransition indicates no next stage is defined for approval
	// from the current stage.
	ErrInvalidTransition = errors.New("workflow: invalid stage for approval")
)

// approveTransitions is the fixed next-stage table for the approve action.
// DRAFT and the terminal stages deliberately have no entry; approving from
// them fails with ErrInvalidTransition.
var approveTransitions = map[string]string{
	StagePendingApproval: StageApprovedL1,
	StageApprovedL1:      StageApprovedFinal,
	StageApprovedFinal:   StageOrdered,
}

// NextOnApprove returns the stage code an approval moves to from the given
// current stage code.
func NextOnApprove(current string) (string, error) {
	next, ok := approveTransitions[current]
	if !ok {
		return "", ErrInvalidTransition
	}
	return next, nil
}

// seedStages is the full pipeline installed by Registry.Seed. The draft
// stage mirrors the bootstrap default used by EnsureDraft.
var seedStages = []Stage{
	{Code: StageDraft, Name: "Draft", Sequence: 1, AllowedActions: []Action{ActionEdit, ActionApprove, ActionCancel}, IsActive: true},
	{Code: StagePendingApproval, Name: "Pending Approval", Sequence: 2, AllowedActions: []Action{ActionEdit, ActionApprove, ActionReject}, IsActive: true},
	{Code: StageApprovedL1, Name: "Approved Level 1", Sequence: 3, AllowedActions: []Action{ActionApprove, ActionReject}, IsActive: true},
	{Code: StageApprovedFinal, Name: "Approved Final", Sequence: 4, AllowedActions: []Action{ActionApprove}, IsActive: true},
	{Code: StageOrdered, Name: "Ordered", Sequence: 5, AllowedActions: []Action{}, IsActive: true},
	{Code: StageCancelled, Name: "Cancelled", Sequence: 6, AllowedActions: []Action{}, IsActive: true},
}
