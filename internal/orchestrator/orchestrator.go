package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/repo"
)

const DefaultBatchSize = 3

// Orchestrator schedules a project's tasks in batches. At most one batch is
// in flight: no new batch is handed out while any task is in progress.
type Orchestrator struct {
	Engine    engine.Engine
	BatchSize int
	Log       *zap.Logger
}

func New(eng engine.Engine, batchSize int, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{Engine: eng, BatchSize: batchSize, Log: log}
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

func (o *Orchestrator) size(n int) int {
	if n > 0 {
		return n
	}
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

type Progress struct {
	Done       int `json:"done"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type Batch struct {
	Number   int           `json:"batch_number"`
	Parallel bool          `json:"parallel"`
	Tasks    []domain.Task `json:"tasks"`
}

// TaskNumbers returns the batch's task numbers in order.
func (b *Batch) TaskNumbers() []int {
	out := make([]int, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		out = append(out, t.Number)
	}
	return out
}

func progressOf(tasks []domain.Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status.Normalize() {
		case domain.TaskDone, domain.TaskApproved:
			p.Done++
		case domain.TaskInProgress:
			p.InProgress++
		case domain.TaskPending:
			p.Pending++
		case domain.TaskFailed:
			p.Failed++
		}
	}
	return p
}

// nextBatch picks the lowest-numbered pending tasks, or nil while a batch is
// in flight or nothing is pending.
func nextBatch(tasks []domain.Task, size int) *Batch {
	p := progressOf(tasks)
	if p.InProgress > 0 || p.Pending == 0 {
		return nil
	}
	var pending []domain.Task
	for _, t := range tasks {
		if t.Status == domain.TaskPending {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Number < pending[j].Number })
	if len(pending) > size {
		pending = pending[:size]
	}
	started := p.Total - p.Pending
	return &Batch{
		Number:   (started+size-1)/size + 1,
		Parallel: len(pending) > 1,
		Tasks:    pending,
	}
}

func (o *Orchestrator) tasks(ctx context.Context, r repo.Repo, projectID string) ([]domain.Task, error) {
	if _, err := engine.LoadProject(ctx, r, projectID); err != nil {
		return nil, err
	}
	return r.ListTasks(ctx, projectID)
}

func (o *Orchestrator) Progress(ctx context.Context, projectID string) (Progress, error) {
	tasks, err := o.tasks(ctx, o.Engine.Repo, projectID)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(tasks), nil
}

// GetNextBatch returns the next batch without starting it. size <= 0 uses
// the configured batch size.
func (o *Orchestrator) GetNextBatch(ctx context.Context, projectID string, size int) (*Batch, error) {
	tasks, err := o.tasks(ctx, o.Engine.Repo, projectID)
	if err != nil {
		return nil, err
	}
	return nextBatch(tasks, o.size(size)), nil
}

// StartBatch moves each listed pending task to in-progress. Numbers that do
// not match a pending task are skipped.
func (o *Orchestrator) StartBatch(ctx context.Context, projectID string, numbers []int) ([]domain.Task, error) {
	started := []domain.Task{}
	err := o.Engine.InTx(ctx, func(r repo.Repo) error {
		if _, err := engine.LoadProject(ctx, r, projectID); err != nil {
			return err
		}
		var err error
		started, err = o.start(ctx, r, projectID, numbers)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger().Info("batch started", zap.String("project", projectID), zap.Ints("requested", numbers), zap.Int("started", len(started)))
	return started, nil
}

func (o *Orchestrator) start(ctx context.Context, r repo.Repo, projectID string, numbers []int) ([]domain.Task, error) {
	started := []domain.Task{}
	for _, n := range numbers {
		t, err := r.GetTaskByNumber(ctx, projectID, n)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.Status != domain.TaskPending {
			continue
		}
		if err := o.Engine.MarkStarted(ctx, r, &t); err != nil {
			return nil, err
		}
		started = append(started, t)
	}
	return started, nil
}

// ClaimNextBatch picks the next batch and starts it in one write
// transaction, so two callers cannot both claim work.
func (o *Orchestrator) ClaimNextBatch(ctx context.Context, projectID string, size int) (*Batch, error) {
	var batch *Batch
	err := o.Engine.InTx(ctx, func(r repo.Repo) error {
		tasks, err := o.tasks(ctx, r, projectID)
		if err != nil {
			return err
		}
		batch = nextBatch(tasks, o.size(size))
		if batch == nil {
			return nil
		}
		started, err := o.start(ctx, r, projectID, batch.TaskNumbers())
		if err != nil {
			return err
		}
		batch.Tasks = started
		return nil
	})
	if err != nil {
		return nil, err
	}
	if batch != nil {
		o.logger().Info("batch claimed", zap.String("project", projectID), zap.Int("batch", batch.Number), zap.Ints("tasks", batch.TaskNumbers()))
	}
	return batch, nil
}

const defaultFailFeedback = "Subagent reported failure."

// CompleteTask records an agent's result for a task. A pass writes both
// reviews and approves the task; a fail writes a failing spec review only.
func (o *Orchestrator) CompleteTask(ctx context.Context, projectID string, number int, result, feedback string) (domain.Task, error) {
	verdict, err := domain.ParseVerdict(result)
	if err != nil {
		return domain.Task{}, &engine.ValidationError{Msg: err.Error()}
	}
	feedback = strings.TrimSpace(feedback)
	eng := o.Engine
	var out domain.Task
	err = eng.InTx(ctx, func(r repo.Repo) error {
		t, err := engine.LoadTask(ctx, r, projectID, number)
		if err != nil {
			return err
		}
		if err := eng.SetStatus(ctx, r, &t, domain.TaskDone); err != nil {
			return err
		}
		if verdict == domain.Pass {
			spec := domain.PassReview(joinFeedback("Subagent completed successfully.", feedback))
			quality := domain.PassReview(joinFeedback("Auto-reviewed.", feedback))
			if err := eng.WriteReview(ctx, r, &t, domain.SpecReview, spec, domain.SourceAuto); err != nil {
				return err
			}
			if err := eng.WriteReview(ctx, r, &t, domain.QualityReview, quality, domain.SourceAuto); err != nil {
				return err
			}
			if err := eng.Approve(ctx, r, &t); err != nil {
				return err
			}
		} else {
			msg := feedback
			if msg == "" {
				msg = defaultFailFeedback
			}
			t.QualityReview = nil
			if err := eng.WriteReview(ctx, r, &t, domain.SpecReview, domain.FailReview(msg), domain.SourceAuto); err != nil {
				return err
			}
			if err := eng.SetStatus(ctx, r, &t, domain.TaskFailed); err != nil {
				return err
			}
		}
		out = t
		return eng.AppendEvent(ctx, r, projectID, domain.TaskUpdate{Task: number, Status: t.Status, Feedback: feedback})
	})
	if err != nil {
		return domain.Task{}, err
	}
	o.logger().Info("task completed", zap.String("project", projectID), zap.Int("task", number), zap.String("status", string(out.Status)))
	return out, nil
}

func joinFeedback(prefix, feedback string) string {
	if feedback == "" {
		return prefix
	}
	return prefix + " " + feedback
}

// Actions returned by Status.
const (
	ActionAllDone    = "all_done"
	ActionWaiting    = "waiting"
	ActionSpawnBatch = "spawn_batch"
	ActionCheckpoint = "checkpoint"
)

// Button is a chat affordance attached to a status. Action is the callback
// id a bot would route; Value carries its argument.
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
	Style  string `json:"style,omitempty"`
}

type StatusReport struct {
	ProjectID string   `json:"project_id"`
	Action    string   `json:"action" enum:"all_done,waiting,spawn_batch,checkpoint"`
	Message   string   `json:"message"`
	Progress  Progress `json:"progress"`
	Batch     *Batch   `json:"batch,omitempty"`
	Buttons   []Button `json:"buttons"`
}

// Status tells a caller what to do next. It only reads.
func (o *Orchestrator) Status(ctx context.Context, projectID string) (StatusReport, error) {
	tasks, err := o.tasks(ctx, o.Engine.Repo, projectID)
	if err != nil {
		return StatusReport{}, err
	}
	return decide(projectID, tasks, o.size(0)), nil
}

func decide(projectID string, tasks []domain.Task, size int) StatusReport {
	p := progressOf(tasks)
	rep := StatusReport{ProjectID: projectID, Progress: p, Buttons: []Button{}}
	switch {
	case p.Total > 0 && p.Done == p.Total:
		rep.Action = ActionAllDone
		rep.Message = fmt.Sprintf("All %d tasks complete. Ready for review.", p.Total)
		rep.Buttons = []Button{{Label: "Confirm", Action: "confirm_done", Value: projectID, Style: "primary"}}
	case p.InProgress > 0:
		rep.Action = ActionWaiting
		rep.Message = fmt.Sprintf("Waiting on %d in-progress task(s). %d/%d done.", p.InProgress, p.Done, p.Total)
	default:
		if b := nextBatch(tasks, size); b != nil {
			rep.Action = ActionSpawnBatch
			rep.Batch = b
			nums := joinInts(b.TaskNumbers())
			rep.Message = fmt.Sprintf("Batch %d ready: tasks %s. %d/%d done.", b.Number, nums, p.Done, p.Total)
			rep.Buttons = []Button{
				{Label: "Launch batch", Action: "launch_batch", Value: nums, Style: "primary"},
				{Label: "Pause", Action: "pause", Value: projectID},
			}
			break
		}
		rep.Action = ActionCheckpoint
		rep.Message = fmt.Sprintf("Checkpoint: %d/%d tasks done.", p.Done, p.Total)
	}
	return rep
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

// ProgressMessage renders a compact text report: a header, one glyph per
// task, then one line per task.
func (o *Orchestrator) ProgressMessage(ctx context.Context, projectID string) (string, error) {
	tasks, err := o.tasks(ctx, o.Engine.Repo, projectID)
	if err != nil {
		return "", err
	}
	return renderProgress(tasks), nil
}

func renderProgress(tasks []domain.Task) string {
	p := progressOf(tasks)
	var b strings.Builder
	fmt.Fprintf(&b, "Progress: %d/%d tasks done\n", p.Done, p.Total)
	for _, t := range tasks {
		b.WriteString(barGlyph(t.Status))
	}
	b.WriteString("\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %d. %s\n", lineGlyph(t.Status), t.Number, t.Title)
	}
	return b.String()
}

func barGlyph(s domain.TaskStatus) string {
	switch s.Normalize() {
	case domain.TaskApproved, domain.TaskDone:
		return "●"
	case domain.TaskInProgress:
		return "◐"
	case domain.TaskFailed:
		return "✗"
	}
	return "○"
}

func lineGlyph(s domain.TaskStatus) string {
	switch s.Normalize() {
	case domain.TaskApproved, domain.TaskDone:
		return "✅"
	case domain.TaskInProgress:
		return "🔄"
	case domain.TaskFailed:
		return "❌"
	}
	return "⬜"
}
