package engine

import (
	"context"

	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// Gate failure reasons.
const (
	ReasonAlreadyDone      = "already done"
	ReasonNeedDesign       = "Need at least one approved design artifact"
	ReasonDesignsPending   = "All design artifacts must be approved"
	ReasonNeedPlan         = "Need an approved plan artifact"
	ReasonNeedWorktree     = "Need at least one active worktree"
	ReasonNoTasks          = "Need at least one task"
	ReasonTasksNotApproved = "All tasks must be approved"
)

// AdvanceResult is the outcome of an advance attempt. A failed gate is a
// normal result carrying Reason, not an error.
type AdvanceResult struct {
	Success bool         `json:"success"`
	From    domain.Phase `json:"from,omitempty"`
	To      domain.Phase `json:"to,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

type gate func(ctx context.Context, r repo.Repo, projectID string) (string, error)

var gates = map[domain.Phase]gate{
	domain.PhaseBrainstorm: func(ctx context.Context, r repo.Repo, id string) (string, error) {
		_, approved, err := r.CountArtifacts(ctx, id, domain.ArtifactDesign)
		if err != nil || approved > 0 {
			return "", err
		}
		return ReasonNeedDesign, nil
	},
	domain.PhaseDesign: func(ctx context.Context, r repo.Repo, id string) (string, error) {
		total, approved, err := r.CountArtifacts(ctx, id, domain.ArtifactDesign)
		switch {
		case err != nil:
			return "", err
		case total == 0:
			return ReasonNeedDesign, nil
		case approved < total:
			return ReasonDesignsPending, nil
		}
		return "", nil
	},
	domain.PhasePlan: func(ctx context.Context, r repo.Repo, id string) (string, error) {
		_, approved, err := r.CountArtifacts(ctx, id, domain.ArtifactPlan)
		if err != nil {
			return "", err
		}
		if approved == 0 {
			return ReasonNeedPlan, nil
		}
		active, err := r.CountWorktrees(ctx, id, domain.WorktreeActive)
		if err != nil {
			return "", err
		}
		if active == 0 {
			return ReasonNeedWorktree, nil
		}
		return "", nil
	},
	domain.PhaseExecute: func(ctx context.Context, r repo.Repo, id string) (string, error) {
		counts, err := r.CountTasksByStatus(ctx, id)
		if err != nil {
			return "", err
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		if total == 0 {
			return ReasonNoTasks, nil
		}
		if counts[domain.TaskApproved] != total {
			return ReasonTasksNotApproved, nil
		}
		return "", nil
	},
	domain.PhaseReview: func(context.Context, repo.Repo, string) (string, error) {
		return "", nil
	},
}

func checkGate(ctx context.Context, r repo.Repo, p domain.Project) (string, error) {
	if p.Phase == domain.PhaseDone {
		return ReasonAlreadyDone, nil
	}
	g, ok := gates[p.Phase]
	if !ok {
		return "", invalid("project %s has unknown phase %q", p.ID, p.Phase)
	}
	return g(ctx, r, p.ID)
}

// CheckGate reports why the project cannot leave its current phase, or ""
// when it can. Nothing is written.
func (e Engine) CheckGate(ctx context.Context, projectID string) (string, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return checkGate(ctx, e.Repo, p)
}

// Advance moves the project to its next phase when the current phase's gate
// holds, recording a phase_change event in the same transaction.
func (e Engine) Advance(ctx context.Context, projectID string) (AdvanceResult, error) {
	var res AdvanceResult
	err := e.InTx(ctx, func(r repo.Repo) error {
		p, err := r.GetProject(ctx, projectID)
		if err != nil {
			return notFound("project", projectID, err)
		}
		reason, err := checkGate(ctx, r, p)
		if err != nil {
			return err
		}
		if reason != "" {
			res = AdvanceResult{Reason: reason}
			return nil
		}
		next, _ := p.Phase.Next()
		if err := r.UpdateProjectPhase(ctx, p.ID, next, e.Stamp()); err != nil {
			return err
		}
		if err := e.AppendEvent(ctx, r, p.ID, domain.PhaseChange{From: p.Phase, To: next}); err != nil {
			return err
		}
		res = AdvanceResult{Success: true, From: p.Phase, To: next}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if res.Success {
		e.logger().Info("phase advanced", zap.String("project", projectID),
			zap.String("from", string(res.From)), zap.String("to", string(res.To)))
	} else {
		e.logger().Debug("phase gate failed", zap.String("project", projectID), zap.String("reason", res.Reason))
	}
	return res, nil
}
