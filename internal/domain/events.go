package domain

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventPhaseChange EventType = "phase_change"
	EventApproval    EventType = "approval"
	EventTaskUpdate  EventType = "task_update"
	EventReview      EventType = "review"
)

// EventDetails is the typed payload of an event row. Each event type has
// exactly one details struct.
type EventDetails interface {
	EventType() EventType
}

type PhaseChange struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

func (PhaseChange) EventType() EventType { return EventPhaseChange }

type Approval struct {
	ArtifactID   string         `json:"artifact"`
	ArtifactType ArtifactType   `json:"type"`
	Status       ArtifactStatus `json:"status"`
	Feedback     string         `json:"feedback,omitempty"`
}

func (Approval) EventType() EventType { return EventApproval }

type TaskUpdate struct {
	Task     int        `json:"task"`
	Status   TaskStatus `json:"status"`
	Feedback string     `json:"feedback,omitempty"`
}

func (TaskUpdate) EventType() EventType { return EventTaskUpdate }

type ReviewRecorded struct {
	Task     int          `json:"task"`
	Kind     ReviewKind   `json:"kind"`
	Verdict  Verdict      `json:"verdict"`
	Feedback string       `json:"feedback,omitempty"`
	Source   ReviewSource `json:"source"`
}

func (ReviewRecorded) EventType() EventType { return EventReview }

// DecodeEventDetails unmarshals a stored details blob into the variant for t.
func DecodeEventDetails(t EventType, raw []byte) (EventDetails, error) {
	var (
		details EventDetails
		err     error
	)
	switch t {
	case EventPhaseChange:
		var d PhaseChange
		err = json.Unmarshal(raw, &d)
		details = d
	case EventApproval:
		var d Approval
		err = json.Unmarshal(raw, &d)
		details = d
	case EventTaskUpdate:
		var d TaskUpdate
		err = json.Unmarshal(raw, &d)
		details = d
	case EventReview:
		var d ReviewRecorded
		err = json.Unmarshal(raw, &d)
		details = d
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s details: %w", t, err)
	}
	return details, nil
}
