package engine

import (
	"context"

	"phaseline/internal/domain"
)

const DefaultEventLimit = 50

// ListEvents returns a project's events newest first. limit <= 0 uses
// DefaultEventLimit.
func (e Engine) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return e.Repo.LatestEvents(ctx, projectID, limit)
}
