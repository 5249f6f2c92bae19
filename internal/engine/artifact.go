package engine

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

type CreateArtifactOptions struct {
	ProjectID string
	Type      string
	Content   string
	// FilePath is recorded as the artifact's source. When Content is empty
	// the file is read for it.
	FilePath string
}

func (e Engine) CreateArtifact(ctx context.Context, opts CreateArtifactOptions) (domain.Artifact, error) {
	typ, err := domain.ParseArtifactType(opts.Type)
	if err != nil {
		return domain.Artifact{}, invalid("%v", err)
	}
	content := opts.Content
	if content == "" {
		if opts.FilePath == "" {
			return domain.Artifact{}, invalid("artifact content or file path is required")
		}
		data, err := os.ReadFile(opts.FilePath)
		if err != nil {
			return domain.Artifact{}, invalid("read artifact file: %v", err)
		}
		content = string(data)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Artifact{}, notFound("project", opts.ProjectID, err)
	}
	now := e.Stamp()
	a := domain.Artifact{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Type:      typ,
		Content:   content,
		FilePath:  optionalString(opts.FilePath),
		Status:    domain.ArtifactDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertArtifact(ctx, a); err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

func (e Engine) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	a, err := e.Repo.GetArtifact(ctx, id)
	return a, notFound("artifact", id, err)
}

// ListArtifacts returns a project's artifacts, optionally filtered by type.
func (e Engine) ListArtifacts(ctx context.Context, projectID, artifactType string) ([]domain.Artifact, error) {
	var typ domain.ArtifactType
	if artifactType != "" {
		var err error
		if typ, err = domain.ParseArtifactType(artifactType); err != nil {
			return nil, invalid("%v", err)
		}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, notFound("project", projectID, err)
	}
	return e.Repo.ListArtifacts(ctx, projectID, typ)
}

func (e Engine) ApproveArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	return e.decideArtifact(ctx, id, domain.ArtifactApproved, "")
}

// RejectArtifact rejects a draft. The feedback is stored verbatim.
func (e Engine) RejectArtifact(ctx context.Context, id, feedback string) (domain.Artifact, error) {
	if strings.TrimSpace(feedback) == "" {
		return domain.Artifact{}, invalid("rejection feedback is required")
	}
	return e.decideArtifact(ctx, id, domain.ArtifactRejected, feedback)
}

func (e Engine) decideArtifact(ctx context.Context, id string, status domain.ArtifactStatus, feedback string) (domain.Artifact, error) {
	var out domain.Artifact
	err := e.InTx(ctx, func(r repo.Repo) error {
		a, err := r.GetArtifact(ctx, id)
		if err != nil {
			return notFound("artifact", id, err)
		}
		if a.Status != domain.ArtifactDraft {
			return invalid("artifact %s is %s, only drafts can be %s", id, a.Status, status)
		}
		now := e.Stamp()
		if err := r.UpdateArtifactStatus(ctx, id, status, optionalString(feedback), now); err != nil {
			return err
		}
		a.Status = status
		a.Feedback = optionalString(feedback)
		a.UpdatedAt = now
		out = a
		return e.AppendEvent(ctx, r, a.ProjectID, domain.Approval{
			ArtifactID:   a.ID,
			ArtifactType: a.Type,
			Status:       status,
			Feedback:     feedback,
		})
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	e.logger().Info("artifact decided", zap.String("artifact", id), zap.String("status", string(status)))
	return out, nil
}

// AppendEvent writes an event through r, stamped by the engine clock.
func (e Engine) AppendEvent(ctx context.Context, r repo.Repo, projectID string, details domain.EventDetails) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, r, projectID, details)
}
