package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"phaseline/internal/domain"
)

const taskColumns = `id,project_id,artifact_id,worktree_id,task_number,title,description,status,spec_review,quality_review,started_at,completed_at,agent_session_id,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var artifactID, worktreeID, description, specReview, qualityReview, startedAt, completedAt, session sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &artifactID, &worktreeID, &t.Number, &t.Title, &description, &t.Status,
		&specReview, &qualityReview, &startedAt, &completedAt, &session, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = t.Status.Normalize()
	if description.Valid {
		t.Description = description.String
	}
	t.ArtifactID = stringPtr(artifactID)
	t.WorktreeID = stringPtr(worktreeID)
	t.SpecReview = stringPtr(specReview)
	t.QualityReview = stringPtr(qualityReview)
	t.StartedAt = stringPtr(startedAt)
	t.CompletedAt = stringPtr(completedAt)
	t.AgentSessionID = stringPtr(session)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ArtifactID), nullableStringPtr(t.WorktreeID), t.Number, t.Title, nullable(t.Description),
		string(t.Status), nullableStringPtr(t.SpecReview), nullableStringPtr(t.QualityReview), nullableStringPtr(t.StartedAt),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.AgentSessionID), t.CreatedAt, t.UpdatedAt)
	return err
}

// InsertTasks stores every task or none of them.
func (r Repo) InsertTasks(ctx context.Context, tasks []domain.Task) error {
	return r.InTx(ctx, func(tx Repo) error {
		for _, t := range tasks {
			if err := tx.InsertTask(ctx, t); err != nil {
				return fmt.Errorf("insert task %d: %w", t.Number, err)
			}
		}
		return nil
	})
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET artifact_id=?, worktree_id=?, title=?, description=?, status=?, spec_review=?, quality_review=?, started_at=?, completed_at=?, agent_session_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.ArtifactID), nullableStringPtr(t.WorktreeID), t.Title, nullable(t.Description), string(t.Status),
		nullableStringPtr(t.SpecReview), nullableStringPtr(t.QualityReview), nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.AgentSessionID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetTaskByNumber(ctx context.Context, projectID string, number int) (domain.Task, error) {
	return scanTask(r.q().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? AND task_number=?`, projectID, number))
}

// ListTasks returns a project's tasks in execution order.
func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY task_number`, projectID)
}

// ListTasksInRange returns tasks numbered from..to inclusive.
func (r Repo) ListTasksInRange(ctx context.Context, projectID string, from, to int) ([]domain.Task, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? AND task_number BETWEEN ? AND ? ORDER BY task_number`, projectID, from, to)
}

func (r Repo) listTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByStatus groups a project's tasks by normalized status.
func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[domain.TaskStatus]int, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status domain.TaskStatus
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, err
		}
		res[status.Normalize()] += c
	}
	return res, rows.Err()
}
