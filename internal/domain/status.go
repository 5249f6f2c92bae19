package domain

import "fmt"

// Phase is a project lifecycle stage. Phases are strictly ordered.
type Phase string

const (
	PhaseBrainstorm Phase = "brainstorm"
	PhaseDesign     Phase = "design"
	PhasePlan       Phase = "plan"
	PhaseExecute    Phase = "execute"
	PhaseReview     Phase = "review"
	PhaseDone       Phase = "done"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhaseBrainstorm, PhaseDesign, PhasePlan, PhaseExecute, PhaseReview, PhaseDone}

// Next returns the phase after p. ok is false for done and unknown phases.
func (p Phase) Next() (Phase, bool) {
	for i, cur := range Phases {
		if cur == p && i+1 < len(Phases) {
			return Phases[i+1], true
		}
	}
	return "", false
}

func (p Phase) Valid() bool {
	for _, cur := range Phases {
		if cur == p {
			return true
		}
	}
	return false
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid phase %q", s)
	}
	return p, nil
}

var defaultModels = map[Phase]string{
	PhaseBrainstorm: "opus",
	PhaseDesign:     "opus",
	PhasePlan:       "opus",
	PhaseExecute:    "sonnet",
	PhaseReview:     "opus",
	PhaseDone:       "haiku",
}

// DefaultModel returns the model used for a phase when a project has no override.
func DefaultModel(p Phase) string {
	return defaultModels[p]
}

type ArtifactType string

const (
	ArtifactDesign ArtifactType = "design"
	ArtifactPlan   ArtifactType = "plan"
)

func ParseArtifactType(s string) (ArtifactType, error) {
	switch t := ArtifactType(s); t {
	case ArtifactDesign, ArtifactPlan:
		return t, nil
	}
	return "", fmt.Errorf("invalid artifact type %q", s)
}

type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "draft"
	ArtifactApproved ArtifactStatus = "approved"
	ArtifactRejected ArtifactStatus = "rejected"
)

type WorktreeStatus string

const (
	WorktreeActive    WorktreeStatus = "active"
	WorktreeMerged    WorktreeStatus = "merged"
	WorktreeDiscarded WorktreeStatus = "discarded"
)

func ParseWorktreeStatus(s string) (WorktreeStatus, error) {
	switch st := WorktreeStatus(s); st {
	case WorktreeActive, WorktreeMerged, WorktreeDiscarded:
		return st, nil
	}
	return "", fmt.Errorf("invalid worktree status %q", s)
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
	TaskApproved   TaskStatus = "approved"
	TaskFailed     TaskStatus = "failed"
)

// Normalize folds the underscore spelling of in-progress into the canonical one.
func (s TaskStatus) Normalize() TaskStatus {
	if s == "in_progress" {
		return TaskInProgress
	}
	return s
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s).Normalize(); st {
	case TaskPending, TaskInProgress, TaskDone, TaskApproved, TaskFailed:
		return st, nil
	}
	return "", fmt.Errorf("invalid task status %q", s)
}
