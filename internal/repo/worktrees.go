package repo

import (
	"context"
	"database/sql"
	"errors"

	"phaseline/internal/domain"
)

const worktreeColumns = `id,project_id,branch,path,status,created_at`

func scanWorktree(row rowScanner) (domain.Worktree, error) {
	var w domain.Worktree
	err := row.Scan(&w.ID, &w.ProjectID, &w.Branch, &w.Path, &w.Status, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWorktree(ctx context.Context, w domain.Worktree) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO worktrees(`+worktreeColumns+`) VALUES (?,?,?,?,?,?)`,
		w.ID, w.ProjectID, w.Branch, w.Path, string(w.Status), w.CreatedAt)
	return err
}

func (r Repo) GetWorktree(ctx context.Context, id string) (domain.Worktree, error) {
	return scanWorktree(r.q().QueryRowContext(ctx, `SELECT `+worktreeColumns+` FROM worktrees WHERE id=?`, id))
}

func (r Repo) ListWorktrees(ctx context.Context, projectID string) ([]domain.Worktree, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+worktreeColumns+` FROM worktrees WHERE project_id=? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorktreeStatus(ctx context.Context, id string, status domain.WorktreeStatus) error {
	res, err := r.q().ExecContext(ctx, `UPDATE worktrees SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) CountWorktrees(ctx context.Context, projectID string, status domain.WorktreeStatus) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM worktrees WHERE project_id=? AND status=?`, projectID, string(status)).Scan(&n)
	return n, err
}
