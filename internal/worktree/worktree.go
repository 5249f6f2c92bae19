// Package worktree creates, lists and removes git worktrees for a project
// repository. Every operation shells out to git synchronously.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DirName is the directory, next to the repository, that holds worktrees.
const DirName = ".worktrees"

// Runner executes git with args in dir and returns combined output.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// ExecGit runs the git binary on PATH.
func ExecGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// CommandError reports a git invocation that exited non-zero.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Output)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Entry is one record of `git worktree list --porcelain`.
type Entry struct {
	Path   string `json:"path"`
	Head   string `json:"head"`
	Branch string `json:"branch,omitempty"`
}

type Manager struct {
	Run Runner
	Log *zap.Logger
}

func New(log *zap.Logger) *Manager {
	return &Manager{Run: ExecGit, Log: log}
}

func (m *Manager) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	run := m.Run
	if run == nil {
		run = ExecGit
	}
	out, err := run(ctx, dir, args...)
	if err != nil {
		return out, &CommandError{Args: args, Output: string(out), Err: err}
	}
	return out, nil
}

// SanitizeBranch flattens a branch name into a single directory name.
func SanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// PathFor returns the absolute directory a worktree for branch would use.
func PathFor(repoPath, branch string) (string, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(abs), DirName, SanitizeBranch(branch)), nil
}

// Create adds a worktree on a new branch and returns its absolute path.
func (m *Manager) Create(ctx context.Context, repoPath, branch string) (string, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return "", fmt.Errorf("worktree: branch name is required")
	}
	if repoPath == "" {
		return "", fmt.Errorf("worktree: repository path is required")
	}
	path, err := PathFor(repoPath, branch)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("worktree: create %s: %w", filepath.Dir(path), err)
	}
	if _, err := m.git(ctx, repoPath, "worktree", "add", "-b", branch, path); err != nil {
		return "", err
	}
	m.logger().Info("worktree created", zap.String("repo", repoPath), zap.String("branch", branch), zap.String("path", path))
	return path, nil
}

// List returns the repository's worktrees, including the main checkout.
func (m *Manager) List(ctx context.Context, repoPath string) ([]Entry, error) {
	out, err := m.git(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParsePorcelain(string(out)), nil
}

// Remove force-removes the worktree at path.
func (m *Manager) Remove(ctx context.Context, repoPath, path string) error {
	if _, err := m.git(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	m.logger().Info("worktree removed", zap.String("repo", repoPath), zap.String("path", path))
	return nil
}

// ParsePorcelain decodes porcelain output. Records are separated by blank
// lines; detached worktrees have no branch line.
func ParsePorcelain(out string) []Entry {
	var (
		entries []Entry
		cur     *Entry
	)
	flush := func() {
		if cur != nil && cur.Path != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			flush()
			cur = &Entry{Path: value}
		case "HEAD":
			if cur != nil {
				cur.Head = value
			}
		case "branch":
			if cur != nil {
				cur.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		}
	}
	flush()
	return entries
}
