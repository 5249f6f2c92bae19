package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/worktree"
)

// CreateWorktree adds a git worktree on a new branch and records it as
// active. Nothing is stored when git fails.
func (e Engine) CreateWorktree(ctx context.Context, projectID, branch string) (domain.Worktree, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return domain.Worktree{}, invalid("branch name is required")
	}
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return domain.Worktree{}, err
	}
	path, err := e.Worktrees.Create(ctx, p.RepoPath, branch)
	if err != nil {
		return domain.Worktree{}, err
	}
	w := domain.Worktree{
		ID:        uuid.New().String(),
		ProjectID: p.ID,
		Branch:    branch,
		Path:      path,
		Status:    domain.WorktreeActive,
		CreatedAt: e.Stamp(),
	}
	if err := e.Repo.InsertWorktree(ctx, w); err != nil {
		return domain.Worktree{}, err
	}
	return w, nil
}

func (e Engine) ListWorktrees(ctx context.Context, projectID string) ([]domain.Worktree, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListWorktrees(ctx, projectID)
}

// GitWorktrees lists what git itself reports for the project's repository.
func (e Engine) GitWorktrees(ctx context.Context, projectID string) ([]worktree.Entry, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Worktrees.List(ctx, p.RepoPath)
}

// MarkWorktree records a caller-decided status such as merged or discarded.
func (e Engine) MarkWorktree(ctx context.Context, id, status string) (domain.Worktree, error) {
	st, err := domain.ParseWorktreeStatus(status)
	if err != nil {
		return domain.Worktree{}, invalid("%v", err)
	}
	if err := e.Repo.UpdateWorktreeStatus(ctx, id, st); err != nil {
		return domain.Worktree{}, notFound("worktree", id, err)
	}
	w, err := e.Repo.GetWorktree(ctx, id)
	return w, notFound("worktree", id, err)
}

type CleanupResult struct {
	Removed []string `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// CleanupWorktrees removes merged and discarded worktrees from disk. Failures
// are logged and skipped. Rows stay in the store.
func (e Engine) CleanupWorktrees(ctx context.Context, projectID string) (CleanupResult, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return CleanupResult{}, err
	}
	list, err := e.Repo.ListWorktrees(ctx, projectID)
	if err != nil {
		return CleanupResult{}, err
	}
	res := CleanupResult{Removed: []string{}}
	for _, w := range list {
		if w.Status != domain.WorktreeMerged && w.Status != domain.WorktreeDiscarded {
			continue
		}
		if err := e.Worktrees.Remove(ctx, p.RepoPath, w.Path); err != nil {
			e.logger().Warn("worktree cleanup failed", zap.String("path", w.Path), zap.Error(err))
			res.Failed = append(res.Failed, w.Path)
			continue
		}
		res.Removed = append(res.Removed, w.Path)
	}
	return res, nil
}
