package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/events"
	"phaseline/internal/repo"
	"phaseline/internal/worktree"
)

// WorktreeManager is the version-control side of worktree operations.
type WorktreeManager interface {
	Create(ctx context.Context, repoPath, branch string) (string, error)
	List(ctx context.Context, repoPath string) ([]worktree.Entry, error)
	Remove(ctx context.Context, repoPath, path string) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Worktrees WorktreeManager
	Log       *zap.Logger
	Now       func() time.Time
}

func New(db *sql.DB, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{},
		Worktrees: worktree.New(log),
		Log:       log,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Stamp is the current engine time in UTC RFC3339.
func (e Engine) Stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// InTx runs fn in one storage transaction. Events written through the
// bound repo commit together with the state they describe.
func (e Engine) InTx(ctx context.Context, fn func(repo.Repo) error) error {
	return e.Repo.InTx(ctx, fn)
}

// ValidationError marks a request the engine refuses because of its input
// or the entity's current state.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
	}
	return err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
