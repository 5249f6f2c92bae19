package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectGetCmd())
	prj.AddCommand(projectModelsCmd())
	prj.AddCommand(projectModelCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var repoPath string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project in the brainstorm phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, args[0], repoPath)
				if err != nil {
					return err
				}
				return printJSONOrText(p, fmt.Sprintf("Created project %s (%s) at %s", p.Name, p.ID, p.RepoPath))
			})
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "git repository path")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Phase", "Repo", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Phase, p.RepoPath, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectModelsCmd() *cobra.Command {
	models := &cobra.Command{Use: "models", Short: "Per-phase model overrides"}
	var pairs []string
	set := &cobra.Command{
		Use:   "set <project-id>",
		Short: "Replace the model overrides (phase=model, repeatable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := make(map[string]string, len(pairs))
			for _, pair := range pairs {
				phase, model, ok := strings.Cut(pair, "=")
				if !ok {
					return &usageError{fmt.Sprintf("invalid --model %q (want phase=model)", pair)}
				}
				cfg[strings.TrimSpace(phase)] = strings.TrimSpace(model)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetModelConfig(ctx, args[0], cfg)
				if err != nil {
					return err
				}
				return printJSON(p.ModelConfig)
			})
		},
	}
	set.Flags().StringArrayVar(&pairs, "model", nil, "phase=model")
	models.AddCommand(set)
	return models
}

func projectModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model <project-id> <phase>",
		Short: "Show the model used for a phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ModelForPhase(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"phase": args[1], "model": m}, m)
			})
		},
	}
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Design and plan documents"}
	art.AddCommand(artifactCreateCmd())
	art.AddCommand(artifactListCmd())
	art.AddCommand(artifactDecisionCmd("approve"))
	art.AddCommand(artifactDecisionCmd("reject"))
	return art
}

func artifactCreateCmd() *cobra.Command {
	var opts engine.CreateArtifactOptions
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Create a draft artifact from --content or --file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ProjectID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateArtifact(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrText(a, fmt.Sprintf("Created %s artifact %s", a.Type, a.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "design or plan")
	cmd.Flags().StringVar(&opts.Content, "content", "", "inline content")
	cmd.Flags().StringVar(&opts.FilePath, "file", "", "read content from file")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func artifactListCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListArtifacts(ctx, args[0], typ)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "File", "Created"})
				for _, a := range items {
					file := ""
					if a.FilePath != nil {
						file = *a.FilePath
					}
					tw.AppendRow(table.Row{a.ID, a.Type, a.Status, file, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "filter by type")
	return cmd
}

func artifactDecisionCmd(verb string) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   verb + " <artifact-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a draft artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					a   domain.Artifact
					err error
				)
				if verb == "approve" {
					a, err = e.ApproveArtifact(ctx, args[0])
				} else {
					a, err = e.RejectArtifact(ctx, args[0], feedback)
				}
				if err != nil {
					return err
				}
				return printJSONOrText(a, fmt.Sprintf("Artifact %s %s", a.ID, a.Status))
			})
		},
	}
	if verb == "reject" {
		cmd.Flags().StringVar(&feedback, "feedback", "", "why the artifact was rejected")
		_ = cmd.MarkFlagRequired("feedback")
	}
	return cmd
}

func worktreeCmd() *cobra.Command {
	wt := &cobra.Command{Use: "worktree", Short: "Git worktrees for execution"}
	wt.AddCommand(worktreeCreateCmd())
	wt.AddCommand(worktreeListCmd())
	wt.AddCommand(worktreeGitCmd())
	wt.AddCommand(worktreeMarkCmd())
	wt.AddCommand(worktreeCleanupCmd())
	return wt
}

func worktreeCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <project-id> <branch>",
		Short: "Create a worktree on a new branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorktree(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrText(w, fmt.Sprintf("Created worktree %s at %s", w.ID, w.Path))
			})
		},
	}
}

func worktreeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List stored worktrees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorktrees(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Branch", "Status", "Path"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Branch, w.Status, w.Path})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func worktreeGitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "git <project-id>",
		Short: "List worktrees as git reports them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.GitWorktrees(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
}

func worktreeMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <worktree-id> <active|merged|discarded>",
		Short: "Record a worktree's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.MarkWorktree(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrText(w, fmt.Sprintf("Worktree %s %s", w.ID, w.Status))
			})
		},
	}
}

func worktreeCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <project-id>",
		Short: "Remove merged and discarded worktrees from disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CleanupWorktrees(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrText(res, fmt.Sprintf("Removed %d worktree(s), %d failed", len(res.Removed), len(res.Failed)))
			})
		},
	}
}
