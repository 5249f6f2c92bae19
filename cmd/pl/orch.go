package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"phaseline/internal/app"
	"phaseline/internal/chat"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/orchestrator"
	"phaseline/internal/server"
)

func orchCmd() *cobra.Command {
	orch := &cobra.Command{Use: "orch", Short: "Batch orchestration"}
	orch.AddCommand(orchStatusCmd())
	orch.AddCommand(orchProgressCmd())
	orch.AddCommand(orchNextCmd())
	orch.AddCommand(orchStartCmd())
	orch.AddCommand(orchClaimCmd())
	orch.AddCommand(orchCompleteCmd())
	return orch
}

func withOrchestrator(ctx context.Context, fn func(context.Context, *orchestrator.Orchestrator) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Orchestrator)
	})
}

func orchStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "What should happen next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				st, err := o.Status(ctx, args[0])
				if err != nil {
					return err
				}
				switch format {
				case "slack":
					return printJSON(chat.SlackBlocks(st))
				case "discord":
					return printJSON(chat.DiscordMessage(st))
				case "json":
					return printJSON(st)
				case "", "text":
					return printJSONOrText(st, st.Message)
				}
				return &usageError{fmt.Sprintf("invalid --format %q (want text, json, slack or discord)", format)}
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "text, json, slack or discord")
	return cmd
}

func orchProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <project-id>",
		Short: "Show task progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				if viper.GetBool("json") {
					p, err := o.Progress(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(p)
				}
				msg, err := o.ProgressMessage(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Print(msg)
				return nil
			})
		},
	}
}

func orchNextCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "next <project-id>",
		Short: "Show the next batch without starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				b, err := o.GetNextBatch(ctx, args[0], size)
				if err != nil {
					return err
				}
				return printBatch(b)
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "batch size (defaults to orchestrator.batch_size)")
	return cmd
}

func printBatch(b *orchestrator.Batch) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"batch": b})
	}
	if b == nil {
		fmt.Println("No batch available")
		return nil
	}
	if err := renderTasks(b.Tasks); err != nil {
		return err
	}
	fmt.Printf("Batch %d (%d task(s), parallel=%t)\n", b.Number, len(b.Tasks), b.Parallel)
	return nil
}

func orchStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <project-id> <task-numbers>",
		Short: "Mark tasks in-progress, e.g. 1,2,3",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers, err := parseTaskNumbers(args[1])
			if err != nil {
				return err
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				started, err := o.StartBatch(ctx, args[0], numbers)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(started)
				}
				fmt.Printf("Started %d task(s)\n", len(started))
				return nil
			})
		},
	}
}

func parseTaskNumbers(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, &usageError{fmt.Sprintf("invalid task number %q", part)}
		}
		out = append(out, n)
	}
	return out, nil
}

func orchClaimCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "claim <project-id>",
		Short: "Compute and start the next batch atomically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				b, err := o.ClaimNextBatch(ctx, args[0], size)
				if err != nil {
					return err
				}
				return printBatch(b)
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "batch size (defaults to orchestrator.batch_size)")
	return cmd
}

func orchCompleteCmd() *cobra.Command {
	var result, feedback string
	cmd := &cobra.Command{
		Use:   "complete <project-id> <task-number>",
		Short: "Report a subagent's result for a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTaskNumber(args[1])
			if err != nil {
				return err
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				t, err := o.CompleteTask(ctx, args[0], n, result, feedback)
				if err != nil {
					return err
				}
				return printJSONOrText(t, fmt.Sprintf("Task %d %s", t.Number, t.Status))
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "pass or fail")
	cmd.Flags().StringVar(&feedback, "feedback", "", "subagent notes")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.ResolveConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default " + config.FileName + " and create the state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path, err := config.WriteDefault(workspace)
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]string{"path": path}, "Wrote "+path)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:       a.Engine,
					Orchestrator: a.Orchestrator,
					BasePath:     basePath,
					Log:          a.Log.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Phaseline API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}
