package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

func newTestOrchestrator(t *testing.T, tasks int) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	eng := engine.New(conn, nil)
	p, err := eng.CreateProject(ctx, "demo", filepath.Join(dir, "repo"))
	require.NoError(t, err)
	if tasks > 0 {
		var b strings.Builder
		for i := 1; i <= tasks; i++ {
			fmt.Fprintf(&b, "### Task %d: step %d\n\nbody\n\n", i, i)
		}
		_, err = eng.ImportPlan(ctx, engine.ImportPlanOptions{ProjectID: p.ID, Markdown: b.String()})
		require.NoError(t, err)
	}
	return New(eng, 3, nil), p.ID
}

func TestBatchScenario(t *testing.T) {
	o, id := newTestOrchestrator(t, 5)
	ctx := context.Background()

	b, err := o.GetNextBatch(ctx, id, 3)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []int{1, 2, 3}, b.TaskNumbers())
	assert.Equal(t, 1, b.Number)
	assert.True(t, b.Parallel)

	started, err := o.StartBatch(ctx, id, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, started, 3)

	b, err = o.GetNextBatch(ctx, id, 3)
	require.NoError(t, err)
	assert.Nil(t, b, "no batch while tasks are in progress")

	for _, n := range []int{1, 2, 3} {
		task, err := o.CompleteTask(ctx, id, n, "pass", "")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskApproved, task.Status)
	}

	b, err = o.GetNextBatch(ctx, id, 3)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []int{4, 5}, b.TaskNumbers())
	assert.Equal(t, 2, b.Number)
}

func TestNoBatchWhileInProgress(t *testing.T) {
	tasks := []domain.Task{
		{Number: 1, Status: domain.TaskInProgress},
		{Number: 2, Status: domain.TaskPending},
		{Number: 3, Status: domain.TaskPending},
	}
	assert.Nil(t, nextBatch(tasks, 3))
	tasks[0].Status = "in_progress"
	assert.Nil(t, nextBatch(tasks, 3))
	assert.Equal(t, 1, progressOf(tasks).InProgress)
}

func TestNextBatchOrdersByNumber(t *testing.T) {
	tasks := []domain.Task{
		{Number: 4, Status: domain.TaskPending},
		{Number: 2, Status: domain.TaskPending},
		{Number: 1, Status: domain.TaskApproved},
		{Number: 3, Status: domain.TaskFailed},
	}
	b := nextBatch(tasks, 1)
	require.NotNil(t, b)
	assert.Equal(t, []int{2}, b.TaskNumbers())
	assert.False(t, b.Parallel)
	assert.Equal(t, 3, b.Number)
}

func TestStartBatchSkipsUnmatched(t *testing.T) {
	o, id := newTestOrchestrator(t, 2)
	ctx := context.Background()
	_, err := o.StartBatch(ctx, id, []int{1})
	require.NoError(t, err)
	started, err := o.StartBatch(ctx, id, []int{1, 2, 99})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, 2, started[0].Number)
}

func TestClaimNextBatch(t *testing.T) {
	o, id := newTestOrchestrator(t, 4)
	ctx := context.Background()
	b, err := o.ClaimNextBatch(ctx, id, 0)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []int{1, 2, 3}, b.TaskNumbers())
	for _, task := range b.Tasks {
		assert.Equal(t, domain.TaskInProgress, task.Status)
	}
	again, err := o.ClaimNextBatch(ctx, id, 0)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCompleteTaskReviews(t *testing.T) {
	o, id := newTestOrchestrator(t, 2)
	ctx := context.Background()

	pass, err := o.CompleteTask(ctx, id, 1, "pass", "  looks good ")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskApproved, pass.Status)
	require.NotNil(t, pass.SpecReview)
	require.NotNil(t, pass.QualityReview)
	assert.Equal(t, "PASS: Subagent completed successfully. looks good", *pass.SpecReview)
	assert.Equal(t, "PASS: Auto-reviewed. looks good", *pass.QualityReview)
	assert.NotNil(t, pass.CompletedAt)

	fail, err := o.CompleteTask(ctx, id, 2, "fail", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, fail.Status)
	require.NotNil(t, fail.SpecReview)
	assert.True(t, strings.HasPrefix(*fail.SpecReview, "FAIL: "))
	assert.Nil(t, fail.QualityReview)

	stored, err := o.Engine.GetTask(ctx, id, 2)
	require.NoError(t, err)
	assert.Nil(t, stored.QualityReview)

	_, err = o.CompleteTask(ctx, id, 9, "pass", "")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = o.CompleteTask(ctx, id, 1, "maybe", "")
	assert.True(t, engine.IsValidation(err))
}

func TestCompleteTaskEmitsEvents(t *testing.T) {
	o, id := newTestOrchestrator(t, 1)
	ctx := context.Background()
	_, err := o.CompleteTask(ctx, id, 1, "pass", "ok")
	require.NoError(t, err)
	events, err := o.Engine.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	update, ok := events[0].Details.(domain.TaskUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.TaskUpdate{Task: 1, Status: domain.TaskApproved, Feedback: "ok"}, update)
	review, ok := events[1].Details.(domain.ReviewRecorded)
	require.True(t, ok)
	assert.Equal(t, domain.SourceAuto, review.Source)
}

func TestStatusActions(t *testing.T) {
	ctx := context.Background()

	empty, id := newTestOrchestrator(t, 0)
	st, err := empty.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionCheckpoint, st.Action)

	o, id := newTestOrchestrator(t, 4)
	st, err = o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionSpawnBatch, st.Action)
	require.NotNil(t, st.Batch)
	assert.Len(t, st.Buttons, 2)
	assert.Contains(t, st.Message, "1,2,3")

	_, err = o.StartBatch(ctx, id, st.Batch.TaskNumbers())
	require.NoError(t, err)
	st, err = o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionWaiting, st.Action)
	assert.Contains(t, st.Message, "3 in-progress")

	for _, n := range []int{1, 2, 3, 4} {
		_, err := o.CompleteTask(ctx, id, n, "pass", "")
		require.NoError(t, err)
	}
	st, err = o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionAllDone, st.Action)
	assert.Equal(t, st.Progress.Total, st.Progress.Done)
	assert.Len(t, st.Buttons, 1)

	_, err = o.Status(ctx, "missing")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestAllDoneWhenEveryTaskApproved(t *testing.T) {
	for n := 1; n <= 5; n++ {
		tasks := make([]domain.Task, n)
		for i := range tasks {
			tasks[i] = domain.Task{Number: i + 1, Status: domain.TaskApproved}
		}
		st := decide("p", tasks, 3)
		assert.Equal(t, ActionAllDone, st.Action, "n=%d", n)
		assert.Equal(t, n, st.Progress.Done)
	}
}

func TestCheckpointWithFailedTasks(t *testing.T) {
	tasks := []domain.Task{
		{Number: 1, Status: domain.TaskApproved},
		{Number: 2, Status: domain.TaskFailed},
	}
	assert.Equal(t, ActionCheckpoint, decide("p", tasks, 3).Action)
}

func TestRenderProgress(t *testing.T) {
	tasks := []domain.Task{
		{Number: 1, Title: "Schema", Status: domain.TaskApproved},
		{Number: 2, Title: "Repo", Status: domain.TaskInProgress},
		{Number: 3, Title: "CLI", Status: domain.TaskFailed},
		{Number: 4, Title: "Docs", Status: domain.TaskPending},
	}
	want := "Progress: 1/4 tasks done\n" +
		"●◐✗○\n" +
		"✅ 1. Schema\n" +
		"🔄 2. Repo\n" +
		"❌ 3. CLI\n" +
		"⬜ 4. Docs\n"
	assert.Equal(t, want, renderProgress(tasks))
}
