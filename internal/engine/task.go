package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/planparse"
	"phaseline/internal/repo"
)

func (e Engine) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, projectID)
}

func (e Engine) GetTask(ctx context.Context, projectID string, number int) (domain.Task, error) {
	return getTask(ctx, e.Repo, projectID, number)
}

// LoadTask reads a task through r, usually a transaction-bound repo.
func LoadTask(ctx context.Context, r repo.Repo, projectID string, number int) (domain.Task, error) {
	return getTask(ctx, r, projectID, number)
}

func getTask(ctx context.Context, r repo.Repo, projectID string, number int) (domain.Task, error) {
	t, err := r.GetTaskByNumber(ctx, projectID, number)
	if err != nil {
		return domain.Task{}, notFound("task", fmt.Sprint(number), err)
	}
	return t, nil
}

// BatchRange returns tasks numbered from..to inclusive.
func (e Engine) BatchRange(ctx context.Context, projectID string, from, to int) ([]domain.Task, error) {
	if from > to {
		return nil, invalid("range start %d is after end %d", from, to)
	}
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasksInRange(ctx, projectID, from, to)
}

// StartTask moves a task to in-progress and stamps started_at.
func (e Engine) StartTask(ctx context.Context, projectID string, number int) (domain.Task, error) {
	var out domain.Task
	err := e.InTx(ctx, func(r repo.Repo) error {
		t, err := getTask(ctx, r, projectID, number)
		if err != nil {
			return err
		}
		if t.Status == domain.TaskApproved {
			return invalid("task %d is already approved", number)
		}
		if err := e.MarkStarted(ctx, r, &t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// MarkStarted writes the in-progress transition for t and its event.
func (e Engine) MarkStarted(ctx context.Context, r repo.Repo, t *domain.Task) error {
	now := e.Stamp()
	t.Status = domain.TaskInProgress
	t.StartedAt = &now
	t.UpdatedAt = now
	if err := r.UpdateTask(ctx, *t); err != nil {
		return err
	}
	return e.AppendEvent(ctx, r, t.ProjectID, domain.TaskUpdate{Task: t.Number, Status: t.Status})
}

// UpdateTaskStatus sets a task's status directly. Approval still requires two
// passing reviews.
func (e Engine) UpdateTaskStatus(ctx context.Context, projectID string, number int, status string) (domain.Task, error) {
	st, err := domain.ParseTaskStatus(status)
	if err != nil {
		return domain.Task{}, invalid("%v", err)
	}
	var out domain.Task
	err = e.InTx(ctx, func(r repo.Repo) error {
		t, err := getTask(ctx, r, projectID, number)
		if err != nil {
			return err
		}
		if st == domain.TaskApproved {
			if err := e.Approve(ctx, r, &t); err != nil {
				return err
			}
		} else {
			if err := e.SetStatus(ctx, r, &t, st); err != nil {
				return err
			}
		}
		out = t
		return e.AppendEvent(ctx, r, projectID, domain.TaskUpdate{Task: number, Status: t.Status})
	})
	return out, err
}

// SetStatus writes a status change without emitting an event.
func (e Engine) SetStatus(ctx context.Context, r repo.Repo, t *domain.Task, status domain.TaskStatus) error {
	now := e.Stamp()
	t.Status = status
	t.UpdatedAt = now
	if status == domain.TaskInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	return r.UpdateTask(ctx, *t)
}

// Approve marks t approved and stamps completed_at. It refuses tasks without
// two passing reviews.
func (e Engine) Approve(ctx context.Context, r repo.Repo, t *domain.Task) error {
	if !t.Reviewed() {
		return invalid("task %d needs passing spec and quality reviews before approval", t.Number)
	}
	now := e.Stamp()
	t.Status = domain.TaskApproved
	t.CompletedAt = &now
	t.UpdatedAt = now
	return r.UpdateTask(ctx, *t)
}

// WriteReview stores one review on t and records a review event. It is the
// only path that writes review fields.
func (e Engine) WriteReview(ctx context.Context, r repo.Repo, t *domain.Task, kind domain.ReviewKind, review domain.Review, source domain.ReviewSource) error {
	text := review.String()
	switch kind {
	case domain.SpecReview:
		t.SpecReview = &text
	case domain.QualityReview:
		t.QualityReview = &text
	default:
		return invalid("invalid review kind %q", kind)
	}
	t.UpdatedAt = e.Stamp()
	if err := r.UpdateTask(ctx, *t); err != nil {
		return err
	}
	return e.AppendEvent(ctx, r, t.ProjectID, domain.ReviewRecorded{
		Task:     t.Number,
		Kind:     kind,
		Verdict:  review.Verdict,
		Feedback: review.Feedback,
		Source:   source,
	})
}

// RecordReview writes a review from the given source. The task is approved
// once both reviews pass and demoted to failed when a review on an approved
// task no longer passes.
func (e Engine) RecordReview(ctx context.Context, projectID string, number int, kind domain.ReviewKind, review domain.Review, source domain.ReviewSource) (domain.Task, error) {
	var out domain.Task
	err := e.InTx(ctx, func(r repo.Repo) error {
		t, err := getTask(ctx, r, projectID, number)
		if err != nil {
			return err
		}
		if err := e.WriteReview(ctx, r, &t, kind, review, source); err != nil {
			return err
		}
		out = t
		switch {
		case t.Reviewed() && t.Status != domain.TaskApproved:
			if err := e.Approve(ctx, r, &t); err != nil {
				return err
			}
		case !t.Reviewed() && t.Status == domain.TaskApproved:
			// an approved task must keep two passing reviews
			t.CompletedAt = nil
			if err := e.SetStatus(ctx, r, &t, domain.TaskFailed); err != nil {
				return err
			}
		default:
			return nil
		}
		out = t
		return e.AppendEvent(ctx, r, projectID, domain.TaskUpdate{Task: number, Status: t.Status, Feedback: review.Feedback})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.logger().Info("review recorded",
		zap.Int("task", number), zap.String("kind", string(kind)),
		zap.String("verdict", string(review.Verdict)), zap.String("source", string(source)))
	return out, nil
}

// ReviewTask records a manual review given as kind and result strings.
func (e Engine) ReviewTask(ctx context.Context, projectID string, number int, kind, result, feedback string) (domain.Task, error) {
	k, err := domain.ParseReviewKind(kind)
	if err != nil {
		return domain.Task{}, invalid("%v", err)
	}
	v, err := domain.ParseVerdict(result)
	if err != nil {
		return domain.Task{}, invalid("%v", err)
	}
	review := domain.PassReview(feedback)
	if v == domain.Fail {
		review = domain.FailReview(feedback)
	}
	return e.RecordReview(ctx, projectID, number, k, review, domain.SourceManual)
}

type ImportPlanOptions struct {
	ProjectID  string
	FilePath   string
	Markdown   string
	ArtifactID string
	WorktreeID string
}

// ImportPlan parses a plan and stores its tasks as pending in one
// transaction. A plan without task headings yields no tasks.
func (e Engine) ImportPlan(ctx context.Context, opts ImportPlanOptions) ([]domain.Task, error) {
	markdown := opts.Markdown
	if markdown == "" {
		if opts.FilePath == "" {
			return nil, invalid("plan file path or markdown is required")
		}
		data, err := os.ReadFile(opts.FilePath)
		if err != nil {
			return nil, invalid("read plan file: %v", err)
		}
		markdown = string(data)
	}
	drafts := planparse.Parse(markdown)

	var out []domain.Task
	err := e.InTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
			return notFound("project", opts.ProjectID, err)
		}
		if opts.ArtifactID != "" {
			a, err := r.GetArtifact(ctx, opts.ArtifactID)
			if err != nil {
				return notFound("artifact", opts.ArtifactID, err)
			}
			if a.ProjectID != opts.ProjectID {
				return invalid("artifact %s belongs to another project", a.ID)
			}
		}
		if opts.WorktreeID != "" {
			w, err := r.GetWorktree(ctx, opts.WorktreeID)
			if err != nil {
				return notFound("worktree", opts.WorktreeID, err)
			}
			if w.ProjectID != opts.ProjectID {
				return invalid("worktree %s belongs to another project", w.ID)
			}
		}
		now := e.Stamp()
		tasks := make([]domain.Task, 0, len(drafts))
		for _, d := range drafts {
			tasks = append(tasks, domain.Task{
				ID:          uuid.New().String(),
				ProjectID:   opts.ProjectID,
				ArtifactID:  optionalString(opts.ArtifactID),
				WorktreeID:  optionalString(opts.WorktreeID),
				Number:      d.Number,
				Title:       d.Title,
				Description: d.Description,
				Status:      domain.TaskPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if err := r.InsertTasks(ctx, tasks); err != nil {
			return err
		}
		out = tasks
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger().Info("plan imported", zap.String("project", opts.ProjectID), zap.Int("tasks", len(out)))
	return out, nil
}
