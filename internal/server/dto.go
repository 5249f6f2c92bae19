package server

import (
	"phaseline/internal/domain"
	"phaseline/internal/orchestrator"
)

// Request payloads

type CreateProjectRequest struct {
	Name     string `json:"name" minLength:"1"`
	RepoPath string `json:"repo_path" minLength:"1"`
}

type SetModelsRequest struct {
	Models map[string]string `json:"models"`
}

type CreateArtifactRequest struct {
	Type     string  `json:"type" enum:"design,plan"`
	Content  *string `json:"content,omitempty"`
	FilePath *string `json:"file_path,omitempty"`
}

type RejectArtifactRequest struct {
	Feedback string `json:"feedback" minLength:"1"`
}

type CreateWorktreeRequest struct {
	Branch string `json:"branch" minLength:"1"`
}

type MarkWorktreeRequest struct {
	Status string `json:"status" enum:"active,merged,discarded"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in-progress,in_progress,done,approved,failed"`
}

type ReviewTaskRequest struct {
	Type     string  `json:"type" enum:"spec,quality"`
	Result   string  `json:"result" enum:"pass,fail"`
	Feedback *string `json:"feedback,omitempty"`
}

type ImportPlanRequest struct {
	FilePath   *string `json:"file_path,omitempty"`
	Markdown   *string `json:"markdown,omitempty"`
	ArtifactID *string `json:"artifact_id,omitempty"`
	WorktreeID *string `json:"worktree_id,omitempty"`
}

type StartBatchRequest struct {
	TaskNumbers []int `json:"task_numbers"`
}

type ClaimBatchRequest struct {
	Size *int `json:"size,omitempty" minimum:"1"`
}

type CompleteTaskRequest struct {
	Result   string  `json:"result" enum:"pass,fail"`
	Feedback *string `json:"feedback,omitempty"`
}

// Response payloads

type ModelResponse struct {
	Phase domain.Phase `json:"phase"`
	Model string       `json:"model"`
}

type GateResponse struct {
	Phase  domain.Phase `json:"phase"`
	Open   bool         `json:"open"`
	Reason string       `json:"reason,omitempty"`
}

type EventResponse struct {
	ID        int64            `json:"id"`
	ProjectID string           `json:"project_id"`
	Type      domain.EventType `json:"event_type"`
	Details   any              `json:"details"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type ProgressResponse struct {
	Progress orchestrator.Progress `json:"progress"`
	Message  string                `json:"message"`
}

// BatchResponse carries a nil batch as null.
type BatchResponse struct {
	Batch *orchestrator.Batch `json:"batch"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Type:      e.Type,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
