package repo

import (
	"context"
	"database/sql"
	"errors"

	"phaseline/internal/domain"
)

const artifactColumns = `id,project_id,type,content,file_path,status,feedback,created_at,updated_at`

func scanArtifact(row rowScanner) (domain.Artifact, error) {
	var a domain.Artifact
	var filePath, feedback sql.NullString
	err := row.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Content, &filePath, &a.Status, &feedback, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.FilePath = stringPtr(filePath)
	a.Feedback = stringPtr(feedback)
	return a, nil
}

func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, string(a.Type), a.Content, nullableStringPtr(a.FilePath), string(a.Status), nullableStringPtr(a.Feedback), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	return scanArtifact(r.q().QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id=?`, id))
}

// ListArtifacts returns a project's artifacts oldest first. An empty
// artifactType matches every type.
func (r Repo) ListArtifacts(ctx context.Context, projectID string, artifactType domain.ArtifactType) ([]domain.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE project_id=?`
	args := []any{projectID}
	if artifactType != "" {
		query += ` AND type=?`
		args = append(args, string(artifactType))
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateArtifactStatus(ctx context.Context, id string, status domain.ArtifactStatus, feedback *string, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE artifacts SET status=?, feedback=?, updated_at=? WHERE id=?`,
		string(status), nullableStringPtr(feedback), updatedAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CountArtifacts returns how many artifacts of a type exist for a project and
// how many of those are approved.
func (r Repo) CountArtifacts(ctx context.Context, projectID string, artifactType domain.ArtifactType) (total, approved int, err error) {
	err = r.q().QueryRowContext(ctx, `SELECT count(*), COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0) FROM artifacts WHERE project_id=? AND type=?`,
		string(domain.ArtifactApproved), projectID, string(artifactType)).Scan(&total, &approved)
	return total, approved, err
}
