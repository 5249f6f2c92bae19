package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Plan tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskRangeCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskImportCmd())
	return task
}

func renderTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Title", "Status", "Spec", "Quality"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.Number, t.Title, t.Status, verdictOf(t.SpecReview), verdictOf(t.QualityReview)})
	}
	tw.Render()
	return nil
}

func verdictOf(text *string) string {
	if text == nil {
		return ""
	}
	if r, ok := domain.ParseReview(*text); ok {
		return string(r.Verdict)
	}
	return "?"
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List tasks in number order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, args[0])
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project-id> <task-number>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTaskNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskRangeCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "range <project-id>",
		Short: "List tasks numbered --from..--to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.BatchRange(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 1, "first task number")
	cmd.Flags().IntVar(&to, "to", 1, "last task number")
	return cmd
}

func taskStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <project-id> <task-number>",
		Short: "Mark a task in-progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTaskNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.StartTask(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("Task %d %s", t.Number, t.Status))
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <task-number> <status>",
		Short: "Set a task's status (approved needs both reviews passing)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTaskNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, args[0], n, args[2])
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("Task %d %s", t.Number, t.Status))
			})
		},
	}
}

func taskReviewCmd() *cobra.Command {
	var kind, result, feedback string
	cmd := &cobra.Command{
		Use:   "review <project-id> <task-number>",
		Short: "Record a spec or quality review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTaskNumber(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReviewTask(ctx, args[0], n, kind, result, feedback)
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("Task %d %s review recorded (%s)", t.Number, kind, t.Status))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "spec or quality")
	cmd.Flags().StringVar(&result, "result", "", "pass or fail")
	cmd.Flags().StringVar(&feedback, "feedback", "", "review notes")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func taskImportCmd() *cobra.Command {
	var opts engine.ImportPlanOptions
	cmd := &cobra.Command{
		Use:     "import <project-id> <plan-file>",
		Aliases: []string{"parse"},
		Short:   "Parse a plan file into pending tasks",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ProjectID = args[0]
			opts.FilePath = args[1]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ImportPlan(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				fmt.Printf("Imported %d task(s)\n", len(tasks))
				return renderTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ArtifactID, "artifact", "", "plan artifact id to link")
	cmd.Flags().StringVar(&opts.WorktreeID, "worktree", "", "worktree id to link")
	return cmd
}

func phaseCmd() *cobra.Command {
	phase := &cobra.Command{Use: "phase", Short: "Phase gates"}
	phase.AddCommand(&cobra.Command{
		Use:   "advance <project-id>",
		Short: "Advance to the next phase if the gate holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Advance(ctx, args[0])
				if err != nil {
					return err
				}
				text := fmt.Sprintf("Advanced %s -> %s", res.From, res.To)
				if !res.Success {
					text = "Blocked: " + res.Reason
				}
				return printJSONOrText(res, text)
			})
		},
	})
	phase.AddCommand(&cobra.Command{
		Use:   "gate <project-id>",
		Short: "Check the current phase's gate without advancing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				reason, err := e.CheckGate(ctx, args[0])
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%s: gate open", p.Phase)
				if reason != "" {
					text = fmt.Sprintf("%s: %s", p.Phase, reason)
				}
				out := map[string]any{"phase": p.Phase, "open": reason == "", "reason": reason}
				return printJSONOrText(out, text)
			})
		},
	})
	return phase
}

func eventsCmd() *cobra.Command {
	events := &cobra.Command{Use: "events", Short: "Project event log"}
	var limit int
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Details", "At"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.Type, fmt.Sprintf("%+v", ev.Details), ev.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", engine.DefaultEventLimit, "number of events")
	events.AddCommand(list)
	return events
}
