package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// CreateProject registers a project in the brainstorm phase.
func (e Engine) CreateProject(ctx context.Context, name, repoPath string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	if strings.TrimSpace(repoPath) == "" {
		return domain.Project{}, invalid("repository path is required")
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return domain.Project{}, err
	}
	now := e.Stamp()
	p := domain.Project{
		ID:        uuid.New().String(),
		Name:      name,
		RepoPath:  abs,
		Phase:     domain.PhaseBrainstorm,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.logger().Info("project created", zap.String("project", p.ID), zap.String("name", p.Name), zap.String("repo", p.RepoPath))
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	return p, notFound("project", id, err)
}

// SetModelConfig replaces a project's per-phase model overrides.
func (e Engine) SetModelConfig(ctx context.Context, id string, models map[string]string) (domain.Project, error) {
	parsed := make(map[domain.Phase]string, len(models))
	for k, v := range models {
		phase, err := domain.ParsePhase(k)
		if err != nil {
			return domain.Project{}, invalid("%v", err)
		}
		if strings.TrimSpace(v) == "" {
			return domain.Project{}, invalid("model for phase %s is empty", k)
		}
		parsed[phase] = strings.TrimSpace(v)
	}
	var p domain.Project
	err := e.InTx(ctx, func(r repo.Repo) error {
		if err := r.UpdateModelConfig(ctx, id, parsed, e.Stamp()); err != nil {
			return notFound("project", id, err)
		}
		var err error
		p, err = r.GetProject(ctx, id)
		return err
	})
	return p, err
}

// ModelForPhase resolves the model for a phase, using the default table when
// the project has no override.
func (e Engine) ModelForPhase(ctx context.Context, id, phase string) (string, error) {
	ph, err := domain.ParsePhase(phase)
	if err != nil {
		return "", invalid("%v", err)
	}
	m, err := e.Repo.ModelForPhase(ctx, id, ph)
	return m, notFound("project", id, err)
}

// LoadProject reads a project through r, usually a transaction-bound repo.
func LoadProject(ctx context.Context, r repo.Repo, id string) (domain.Project, error) {
	p, err := r.GetProject(ctx, id)
	return p, notFound("project", id, err)
}
