package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/danielgtaylor/huma/v2"

	"phaseline/internal/chat"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/orchestrator"
	"phaseline/internal/worktree"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type taskPath struct {
	ProjectID string `path:"project_id"`
	Number    int    `path:"task_number"`
}

var commonErrors = []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError}

func (h handlers) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*body[domain.Project], error) {
		p, err := h.e.CreateProject(ctx, input.Body.Name, input.Body.RepoPath)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.Project], error) {
		items, err := h.e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[domain.Project], error) {
		p, err := h.e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-models",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/models",
		Summary:     "Replace per-phase model overrides",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SetModelsRequest `json:"body"`
	}) (*body[domain.Project], error) {
		p, err := h.e.SetModelConfig(ctx, input.ProjectID, input.Body.Models)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-model",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/models/{phase}",
		Summary:     "Resolve the model for a phase",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `path:"phase" enum:"brainstorm,design,plan,execute,review,done"`
	}) (*body[ModelResponse], error) {
		m, err := h.e.ModelForPhase(ctx, input.ProjectID, input.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ModelResponse{Phase: domain.Phase(input.Phase), Model: m}), nil
	})
}

func (h handlers) registerArtifacts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-artifact",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/artifacts",
		Summary:       "Attach a design or plan artifact",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateArtifactRequest `json:"body"`
	}) (*body[domain.Artifact], error) {
		a, err := h.e.CreateArtifact(ctx, engine.CreateArtifactOptions{
			ProjectID: input.ProjectID,
			Type:      input.Body.Type,
			Content:   strPtrValue(input.Body.Content),
			FilePath:  strPtrValue(input.Body.FilePath),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/artifacts",
		Summary:     "List artifacts",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type" doc:"design or plan; empty lists both"`
	}) (*body[[]domain.Artifact], error) {
		items, err := h.e.ListArtifacts(ctx, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts/{artifact_id}/approve",
		Summary:     "Approve a draft artifact",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*body[domain.Artifact], error) {
		a, err := h.e.ApproveArtifact(ctx, input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts/{artifact_id}/reject",
		Summary:     "Reject a draft artifact with feedback",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string                `path:"artifact_id"`
		Body       RejectArtifactRequest `json:"body"`
	}) (*body[domain.Artifact], error) {
		a, err := h.e.RejectArtifact(ctx, input.ArtifactID, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})
}

func (h handlers) registerWorktrees(api huma.API) {
	gitErrors := append([]int{http.StatusBadGateway}, commonErrors...)

	huma.Register(api, huma.Operation{
		OperationID:   "create-worktree",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/worktrees",
		Summary:       "Create a git worktree on a new branch",
		DefaultStatus: http.StatusCreated,
		Errors:        gitErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateWorktreeRequest `json:"body"`
	}) (*body[domain.Worktree], error) {
		w, err := h.e.CreateWorktree(ctx, input.ProjectID, input.Body.Branch)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-worktrees",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/worktrees",
		Summary:     "List recorded worktrees",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[[]domain.Worktree], error) {
		items, err := h.e.ListWorktrees(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-git-worktrees",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/worktrees/git",
		Summary:     "List worktrees as git reports them",
		Errors:      gitErrors,
	}, func(ctx context.Context, input *projectPath) (*body[[]worktree.Entry], error) {
		items, err := h.e.GitWorktrees(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-worktree",
		Method:      http.MethodPatch,
		Path:        "/worktrees/{worktree_id}",
		Summary:     "Record a worktree status",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		WorktreeID string              `path:"worktree_id"`
		Body       MarkWorktreeRequest `json:"body"`
	}) (*body[domain.Worktree], error) {
		w, err := h.e.MarkWorktree(ctx, input.WorktreeID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup-worktrees",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/worktrees/cleanup",
		Summary:     "Remove merged and discarded worktrees from disk",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[engine.CleanupResult], error) {
		res, err := h.e.CleanupWorktrees(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks, optionally a numbered range",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		From      int    `query:"from"`
		To        int    `query:"to"`
	}) (*body[[]domain.Task], error) {
		var (
			items []domain.Task
			err   error
		)
		if input.From > 0 || input.To > 0 {
			to := input.To
			if to == 0 {
				to = int(^uint(0) >> 1)
			}
			items, err = h.e.BatchRange(ctx, input.ProjectID, input.From, to)
		} else {
			items, err = h.e.ListTasks(ctx, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_number}",
		Summary:     "Get task",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *taskPath) (*body[domain.Task], error) {
		t, err := h.e.GetTask(ctx, input.ProjectID, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_number}/start",
		Summary:     "Mark a task in progress",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *taskPath) (*body[domain.Task], error) {
		t, err := h.e.StartTask(ctx, input.ProjectID, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{task_number}",
		Summary:     "Set a task's status",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Number    int                     `path:"task_number"`
		Body      UpdateTaskStatusRequest `json:"body"`
	}) (*body[domain.Task], error) {
		t, err := h.e.UpdateTaskStatus(ctx, input.ProjectID, input.Number, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_number}/reviews",
		Summary:     "Record a manual spec or quality review",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Number    int               `path:"task_number"`
		Body      ReviewTaskRequest `json:"body"`
	}) (*body[domain.Task], error) {
		t, err := h.e.ReviewTask(ctx, input.ProjectID, input.Number, input.Body.Type, input.Body.Result, strPtrValue(input.Body.Feedback))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-plan",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/plans",
		Summary:       "Parse a plan into pending tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      ImportPlanRequest `json:"body"`
	}) (*body[[]domain.Task], error) {
		tasks, err := h.e.ImportPlan(ctx, engine.ImportPlanOptions{
			ProjectID:  input.ProjectID,
			FilePath:   strPtrValue(input.Body.FilePath),
			Markdown:   strPtrValue(input.Body.Markdown),
			ArtifactID: strPtrValue(input.Body.ArtifactID),
			WorktreeID: strPtrValue(input.Body.WorktreeID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(tasks)), nil
	})
}

func (h handlers) registerPhases(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/advance",
		Summary:     "Advance to the next phase when the gate holds",
		Description: "A closed gate is reported with success=false and a reason, not as an error.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[engine.AdvanceResult], error) {
		res, err := h.e.Advance(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Success {
			h.m.PhaseAdvances.WithLabelValues("advanced").Inc()
		} else {
			h.m.PhaseAdvances.WithLabelValues("blocked").Inc()
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-gate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/gate",
		Summary:     "Check the current phase gate without advancing",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[GateResponse], error) {
		p, err := h.e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		reason, err := h.e.CheckGate(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(GateResponse{Phase: p.Phase, Open: reason == "", Reason: reason}), nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events, newest first",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	}) (*body[[]EventResponse], error) {
		items, err := h.e.ListEvents(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(mapEvents(items)), nil
	})
}

func (h handlers) registerOrchestration(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/orchestrator/status",
		Summary:     "What the caller should do next",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[orchestrator.StatusReport], error) {
		st, err := h.o.Status(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-status-slack",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/orchestrator/status/slack",
		Summary:     "Status rendered as a Slack Block Kit message",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[chat.SlackMessage], error) {
		st, err := h.o.Status(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(chat.SlackBlocks(st)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-status-discord",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/orchestrator/status/discord",
		Summary:     "Status rendered as a Discord message with buttons",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[*discordgo.MessageSend], error) {
		st, err := h.o.Status(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(chat.DiscordMessage(st)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/orchestrator/progress",
		Summary:     "Task counts and a rendered progress message",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*body[ProgressResponse], error) {
		p, err := h.o.Progress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		msg, err := h.o.ProgressMessage(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ProgressResponse{Progress: p, Message: msg}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-next-batch",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/orchestrator/next-batch",
		Summary:     "Preview the next batch without starting it",
		Description: "batch is null while a batch is in flight or nothing is pending.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Size      int    `query:"size" minimum:"0"`
	}) (*body[BatchResponse], error) {
		b, err := h.o.GetNextBatch(ctx, input.ProjectID, input.Size)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(BatchResponse{Batch: b}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-start-batch",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/orchestrator/batches",
		Summary:     "Start the listed pending tasks",
		Description: "Numbers that do not match a pending task are skipped; the response lists what started.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      StartBatchRequest `json:"body"`
	}) (*body[[]domain.Task], error) {
		started, err := h.o.StartBatch(ctx, input.ProjectID, input.Body.TaskNumbers)
		if err != nil {
			return nil, handleError(err)
		}
		if len(started) > 0 {
			h.m.BatchesStarted.Inc()
		}
		return reply(started), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-claim-batch",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/orchestrator/claim",
		Summary:     "Pick and start the next batch atomically",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      ClaimBatchRequest `json:"body"`
	}) (*body[BatchResponse], error) {
		size := 0
		if input.Body.Size != nil {
			size = *input.Body.Size
		}
		b, err := h.o.ClaimNextBatch(ctx, input.ProjectID, size)
		if err != nil {
			return nil, handleError(err)
		}
		if b != nil {
			h.m.BatchesStarted.Inc()
		}
		return reply(BatchResponse{Batch: b}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "orchestrator-complete-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_number}/complete",
		Summary:     "Report an agent's result for a task",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Number    int                 `path:"task_number"`
		Body      CompleteTaskRequest `json:"body"`
	}) (*body[domain.Task], error) {
		t, err := h.o.CompleteTask(ctx, input.ProjectID, input.Number, input.Body.Result, strPtrValue(input.Body.Feedback))
		if err != nil {
			return nil, handleError(err)
		}
		h.m.TasksCompleted.WithLabelValues(input.Body.Result).Inc()
		return reply(t), nil
	})
}
