package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"phaseline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Querier is the subset of *sql.DB and *sql.Tx the repo needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the only component that touches storage. Lookups return
// ErrNotFound rather than zero values when a row is missing.
type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

func (r Repo) q() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// ExecContext runs a statement on the bound transaction or the database, so
// a Repo can be handed to the event writer.
func (r Repo) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q().ExecContext(ctx, query, args...)
}

// InTx runs fn against a repo bound to a new transaction and commits when fn
// returns nil. Nested calls reuse the outer transaction.
func (r Repo) InTx(ctx context.Context, fn func(Repo) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(Repo{DB: r.DB, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

const projectColumns = `id,name,repo_path,phase,model_config_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var models sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.Phase, &models, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if models.Valid && models.String != "" {
		if err := json.Unmarshal([]byte(models.String), &p.ModelConfig); err != nil {
			return p, fmt.Errorf("project %s model config: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	models, err := marshalModels(p.ModelConfig)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.RepoPath, string(p.Phase), models, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.q().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectPhase(ctx context.Context, id string, phase domain.Phase, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE projects SET phase=?, updated_at=? WHERE id=?`, string(phase), updatedAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) UpdateModelConfig(ctx context.Context, id string, models map[domain.Phase]string, updatedAt string) error {
	payload, err := marshalModels(models)
	if err != nil {
		return err
	}
	res, err := r.q().ExecContext(ctx, `UPDATE projects SET model_config_json=?, updated_at=? WHERE id=?`, payload, updatedAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ModelForPhase returns the project's override for phase, falling back to
// the default table.
func (r Repo) ModelForPhase(ctx context.Context, projectID string, phase domain.Phase) (string, error) {
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if m, ok := p.ModelConfig[phase]; ok && m != "" {
		return m, nil
	}
	return domain.DefaultModel(phase), nil
}

func marshalModels(models map[domain.Phase]string) (any, error) {
	if len(models) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(models)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
