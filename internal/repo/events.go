package repo

import (
	"context"

	"phaseline/internal/domain"
)

// LatestEvents returns up to limit events for a project, newest first.
// A non-positive limit returns every event.
func (r Repo) LatestEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,project_id,event_type,details_json,created_at FROM events WHERE project_id=? ORDER BY id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var raw string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		details, err := domain.DecodeEventDetails(e.Type, []byte(raw))
		if err != nil {
			return nil, err
		}
		e.Details = details
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountEvents(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM events WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}
