package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
	"phaseline/internal/worktree"
)

type fakeWorktrees struct {
	created []string
	removed []string
	failAdd error
	failRm  map[string]error
}

func (f *fakeWorktrees) Create(_ context.Context, repoPath, branch string) (string, error) {
	if f.failAdd != nil {
		return "", f.failAdd
	}
	path, err := worktree.PathFor(repoPath, branch)
	if err != nil {
		return "", err
	}
	f.created = append(f.created, path)
	return path, nil
}

func (f *fakeWorktrees) List(context.Context, string) ([]worktree.Entry, error) {
	var out []worktree.Entry
	for _, p := range f.created {
		out = append(out, worktree.Entry{Path: p})
	}
	return out, nil
}

func (f *fakeWorktrees) Remove(_ context.Context, _ string, path string) error {
	if err := f.failRm[path]; err != nil {
		return err
	}
	f.removed = append(f.removed, path)
	return nil
}

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	Project   domain.Project
	Worktrees *fakeWorktrees
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	fake := &fakeWorktrees{failRm: map[string]error{}}
	eng.Worktrees = fake
	p, err := eng.CreateProject(ctx, "demo", filepath.Join(dir, "repo"))
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Project: p, Worktrees: fake}
}

func (env testEnv) artifact(t *testing.T, typ string, approve bool) domain.Artifact {
	t.Helper()
	a, err := env.Engine.CreateArtifact(env.Ctx, engine.CreateArtifactOptions{ProjectID: env.Project.ID, Type: typ, Content: "# doc"})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	if approve {
		if a, err = env.Engine.ApproveArtifact(env.Ctx, a.ID); err != nil {
			t.Fatalf("approve artifact: %v", err)
		}
	}
	return a
}

func (env testEnv) importPlan(t *testing.T, n int) []domain.Task {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "### Task %d: step %d\n\nbody\n\n", i, i)
	}
	tasks, err := env.Engine.ImportPlan(env.Ctx, engine.ImportPlanOptions{ProjectID: env.Project.ID, Markdown: b.String()})
	if err != nil {
		t.Fatalf("import plan: %v", err)
	}
	return tasks
}

func (env testEnv) eventCount(t *testing.T) int {
	t.Helper()
	n, err := env.Engine.Repo.CountEvents(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	if env.Project.Phase != domain.PhaseBrainstorm {
		t.Fatalf("expected brainstorm, got %s", env.Project.Phase)
	}
	if !filepath.IsAbs(env.Project.RepoPath) {
		t.Fatalf("repo path not absolute: %s", env.Project.RepoPath)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, " ", "/tmp"); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateProjectLogsIdentity(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.InfoLevel)
	env.Engine.Log = zap.New(core)
	p, err := env.Engine.CreateProject(env.Ctx, "second", t.TempDir())
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	entries := logs.FilterMessage("project created").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["project"] != p.ID || fields["name"] != "second" || fields["repo"] != p.RepoPath {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestModelConfigFallback(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.ModelForPhase(env.Ctx, env.Project.ID, "execute")
	if err != nil || m != "sonnet" {
		t.Fatalf("default execute model: %q %v", m, err)
	}
	if _, err := env.Engine.SetModelConfig(env.Ctx, env.Project.ID, map[string]string{"execute": "opus"}); err != nil {
		t.Fatalf("set model config: %v", err)
	}
	if m, _ = env.Engine.ModelForPhase(env.Ctx, env.Project.ID, "execute"); m != "opus" {
		t.Fatalf("override not applied: %q", m)
	}
	if m, _ = env.Engine.ModelForPhase(env.Ctx, env.Project.ID, "done"); m != "haiku" {
		t.Fatalf("fallback for done: %q", m)
	}
	if _, err := env.Engine.SetModelConfig(env.Ctx, env.Project.ID, map[string]string{"ship": "x"}); !engine.IsValidation(err) {
		t.Fatalf("expected validation error for unknown phase, got %v", err)
	}
}

func TestBrainstormGateWithoutArtifacts(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Advance(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Success || res.Reason != "Need at least one approved design artifact" {
		t.Fatalf("unexpected result %+v", res)
	}
	p, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if p.Phase != domain.PhaseBrainstorm {
		t.Fatalf("phase changed to %s", p.Phase)
	}
	if n := env.eventCount(t); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

func TestFullPhaseWalk(t *testing.T) {
	env := newTestEnv(t)
	ctx, id := env.Ctx, env.Project.ID

	env.artifact(t, "design", true)
	mustAdvance(t, env, domain.PhaseDesign)

	draft := env.artifact(t, "design", false)
	assertBlocked(t, env, engine.ReasonDesignsPending)
	if _, err := env.Engine.ApproveArtifact(ctx, draft.ID); err != nil {
		t.Fatal(err)
	}
	mustAdvance(t, env, domain.PhasePlan)

	assertBlocked(t, env, engine.ReasonNeedPlan)
	env.artifact(t, "plan", true)
	assertBlocked(t, env, engine.ReasonNeedWorktree)
	if _, err := env.Engine.CreateWorktree(ctx, id, "feature/x"); err != nil {
		t.Fatalf("create worktree: %v", err)
	}
	mustAdvance(t, env, domain.PhaseExecute)

	assertBlocked(t, env, engine.ReasonNoTasks)
	env.importPlan(t, 2)
	assertBlocked(t, env, engine.ReasonTasksNotApproved)
	for _, n := range []int{1, 2} {
		if _, err := env.Engine.ReviewTask(ctx, id, n, "spec", "pass", "ok"); err != nil {
			t.Fatal(err)
		}
		task, err := env.Engine.ReviewTask(ctx, id, n, "quality", "pass", "")
		if err != nil {
			t.Fatal(err)
		}
		if task.Status != domain.TaskApproved || task.CompletedAt == nil {
			t.Fatalf("task %d not auto-approved: %+v", n, task)
		}
	}
	mustAdvance(t, env, domain.PhaseReview)
	mustAdvance(t, env, domain.PhaseDone)
	assertBlocked(t, env, engine.ReasonAlreadyDone)

	events, err := env.Engine.ListEvents(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	last, ok := events[0].Details.(domain.PhaseChange)
	if !ok || last.From != domain.PhaseReview || last.To != domain.PhaseDone {
		t.Fatalf("newest event is not the final phase change: %+v", events[0])
	}
}

func mustAdvance(t *testing.T, env testEnv, want domain.Phase) {
	t.Helper()
	res, err := env.Engine.Advance(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Success || res.To != want {
		t.Fatalf("expected advance to %s, got %+v", want, res)
	}
}

func assertBlocked(t *testing.T, env testEnv, reason string) {
	t.Helper()
	before, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	events := env.eventCount(t)
	res, err := env.Engine.Advance(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Success || res.Reason != reason {
		t.Fatalf("expected %q, got %+v", reason, res)
	}
	after, _ := env.Engine.GetProject(env.Ctx, env.Project.ID)
	if after.Phase != before.Phase {
		t.Fatalf("phase moved from %s to %s", before.Phase, after.Phase)
	}
	if n := env.eventCount(t); n != events {
		t.Fatalf("events changed on failed gate: %d -> %d", events, n)
	}
}

func TestArtifactDecisions(t *testing.T) {
	env := newTestEnv(t)
	a := env.artifact(t, "plan", false)
	if _, err := env.Engine.RejectArtifact(env.Ctx, a.ID, ""); !engine.IsValidation(err) {
		t.Fatalf("expected feedback required, got %v", err)
	}
	rejected, err := env.Engine.RejectArtifact(env.Ctx, a.ID, "  needs work \n")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Feedback == nil || *rejected.Feedback != "  needs work \n" {
		t.Fatalf("feedback not stored verbatim: %v", rejected.Feedback)
	}
	if _, err := env.Engine.ApproveArtifact(env.Ctx, a.ID); !engine.IsValidation(err) {
		t.Fatalf("expected rejected artifact to stay rejected, got %v", err)
	}
	events, _ := env.Engine.ListEvents(env.Ctx, env.Project.ID, 10)
	if len(events) != 1 || events[0].Type != domain.EventApproval {
		t.Fatalf("expected one approval event, got %+v", events)
	}
	plans, _ := env.Engine.ListArtifacts(env.Ctx, env.Project.ID, "plan")
	designs, _ := env.Engine.ListArtifacts(env.Ctx, env.Project.ID, "design")
	if len(plans) != 1 || len(designs) != 0 {
		t.Fatalf("type filter: %d plans, %d designs", len(plans), len(designs))
	}
	if _, err := env.Engine.ApproveArtifact(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArtifactFromFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "design.md")
	if err := os.WriteFile(path, []byte("# Design\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.CreateArtifact(env.Ctx, engine.CreateArtifactOptions{ProjectID: env.Project.ID, Type: "design", FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if a.Content != "# Design\n" || a.FilePath == nil || *a.FilePath != path {
		t.Fatalf("unexpected artifact %+v", a)
	}
}

func TestWorktreeFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Worktrees.failAdd = errors.New("fatal: branch exists")
	if _, err := env.Engine.CreateWorktree(env.Ctx, env.Project.ID, "main"); err == nil {
		t.Fatalf("expected git failure")
	}
	list, err := env.Engine.ListWorktrees(env.Ctx, env.Project.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no rows, got %d (%v)", len(list), err)
	}
}

func TestWorktreeCleanup(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.CreateWorktree(env.Ctx, env.Project.ID, "feature/a")
	b, _ := env.Engine.CreateWorktree(env.Ctx, env.Project.ID, "feature/b")
	c, _ := env.Engine.CreateWorktree(env.Ctx, env.Project.ID, "feature/c")
	if !strings.HasSuffix(a.Path, filepath.Join(".worktrees", "feature-a")) {
		t.Fatalf("unexpected path %s", a.Path)
	}
	if _, err := env.Engine.MarkWorktree(env.Ctx, a.ID, "merged"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkWorktree(env.Ctx, b.ID, "discarded"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkWorktree(env.Ctx, c.ID, "gone"); !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	env.Worktrees.failRm[b.Path] = errors.New("locked")

	res, err := env.Engine.CleanupWorktrees(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != a.Path || len(res.Failed) != 1 {
		t.Fatalf("unexpected cleanup result %+v", res)
	}
	list, _ := env.Engine.ListWorktrees(env.Ctx, env.Project.ID)
	if len(list) != 3 {
		t.Fatalf("rows should be kept, got %d", len(list))
	}
}

func TestImportPlanAndTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx, id := env.Ctx, env.Project.ID
	tasks := env.importPlan(t, 3)
	if len(tasks) != 3 || tasks[0].Status != domain.TaskPending {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	task, err := env.Engine.StartTask(ctx, id, 1)
	if err != nil || task.Status != domain.TaskInProgress || task.StartedAt == nil {
		t.Fatalf("start: %+v %v", task, err)
	}
	if _, err := env.Engine.UpdateTaskStatus(ctx, id, 1, "approved"); !engine.IsValidation(err) {
		t.Fatalf("approval without reviews should fail, got %v", err)
	}
	task, err = env.Engine.UpdateTaskStatus(ctx, id, 2, "in_progress")
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("underscore status: %+v %v", task, err)
	}
	task, err = env.Engine.ReviewTask(ctx, id, 3, "spec", "fail", "missing tests")
	if err != nil || task.SpecReview == nil || *task.SpecReview != "FAIL: missing tests" {
		t.Fatalf("fail review: %+v %v", task, err)
	}
	if task.Status == domain.TaskApproved {
		t.Fatalf("failed review approved the task")
	}
	if _, err := env.Engine.GetTask(ctx, id, 42); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rng, err := env.Engine.BatchRange(ctx, id, 2, 3)
	if err != nil || len(rng) != 2 || rng[0].Number != 2 {
		t.Fatalf("range: %+v %v", rng, err)
	}
	if _, err := env.Engine.BatchRange(ctx, id, 3, 2); !engine.IsValidation(err) {
		t.Fatalf("expected inverted range error, got %v", err)
	}
}

func TestFailingReviewDemotesApprovedTask(t *testing.T) {
	env := newTestEnv(t)
	ctx, id := env.Ctx, env.Project.ID
	env.importPlan(t, 1)
	if _, err := env.Engine.ReviewTask(ctx, id, 1, "spec", "pass", "ok"); err != nil {
		t.Fatalf("spec review: %v", err)
	}
	task, err := env.Engine.ReviewTask(ctx, id, 1, "quality", "pass", "ok")
	if err != nil || task.Status != domain.TaskApproved {
		t.Fatalf("expected approval: %+v %v", task, err)
	}
	before := env.eventCount(t)

	task, err = env.Engine.ReviewTask(ctx, id, 1, "quality", "fail", "regressed")
	if err != nil {
		t.Fatalf("quality fail: %v", err)
	}
	if task.Status != domain.TaskFailed || task.CompletedAt != nil || task.Reviewed() {
		t.Fatalf("approved task kept a failing review: %+v", task)
	}
	stored, err := env.Engine.GetTask(ctx, id, 1)
	if err != nil || stored.Status != domain.TaskFailed {
		t.Fatalf("stored status: %+v %v", stored, err)
	}
	// review event plus task_update
	if got := env.eventCount(t) - before; got != 2 {
		t.Fatalf("expected 2 new events, got %d", got)
	}
	events, err := env.Engine.ListEvents(ctx, id, 1)
	if err != nil || events[0].Type != domain.EventTaskUpdate {
		t.Fatalf("newest event: %+v %v", events, err)
	}
	if d, ok := events[0].Details.(domain.TaskUpdate); !ok || d.Status != domain.TaskFailed {
		t.Fatalf("unexpected details %+v", events[0].Details)
	}

	counts, err := env.Engine.Repo.CountTasksByStatus(ctx, id)
	if err != nil || counts[domain.TaskApproved] != 0 {
		t.Fatalf("approved count should drop to 0: %v %v", counts, err)
	}
}

func TestImportPlanIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	plan := "### Task 1: a\n\n### Task 2: b\n\n### Task 1: again\n"
	if _, err := env.Engine.ImportPlan(env.Ctx, engine.ImportPlanOptions{ProjectID: env.Project.ID, Markdown: plan}); err == nil {
		t.Fatalf("expected duplicate task number to fail")
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, env.Project.ID)
	if err != nil || len(tasks) != 0 {
		t.Fatalf("expected no tasks after failed import, got %d (%v)", len(tasks), err)
	}
}

func TestImportPlanEmptyAndForeignLinks(t *testing.T) {
	env := newTestEnv(t)
	tasks, err := env.Engine.ImportPlan(env.Ctx, engine.ImportPlanOptions{ProjectID: env.Project.ID, Markdown: "no tasks here"})
	if err != nil || len(tasks) != 0 {
		t.Fatalf("expected empty import, got %d (%v)", len(tasks), err)
	}
	other, err := env.Engine.CreateProject(env.Ctx, "other", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.CreateArtifact(env.Ctx, engine.CreateArtifactOptions{ProjectID: other.ID, Type: "plan", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ImportPlan(env.Ctx, engine.ImportPlanOptions{ProjectID: env.Project.ID, Markdown: "### Task 1: a\n", ArtifactID: a.ID})
	if !engine.IsValidation(err) {
		t.Fatalf("expected foreign artifact rejection, got %v", err)
	}
}

func TestEventsNewestFirstWithLimit(t *testing.T) {
	env := newTestEnv(t)
	env.importPlan(t, 3)
	for _, n := range []int{1, 2, 3} {
		if _, err := env.Engine.StartTask(env.Ctx, env.Project.ID, n); err != nil {
			t.Fatal(err)
		}
	}
	events, err := env.Engine.ListEvents(env.Ctx, env.Project.ID, 2)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 events, got %d (%v)", len(events), err)
	}
	first, ok := events[0].Details.(domain.TaskUpdate)
	if !ok || first.Task != 3 {
		t.Fatalf("expected newest event for task 3, got %+v", events[0])
	}
}
