package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/app"
	"phaseline/internal/engine"
	"phaseline/internal/repo"
	"phaseline/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline drives a project through gated phases:
brainstorm -> design -> plan -> execute -> review -> done.
- Artifacts: design and plan documents that must be approved before a phase can close.
- Worktrees: git working copies on their own branch, one per unit of execution.
- Tasks: parsed from a plan's "### Task N: Title" headings; approved once spec and quality reviews pass.
- Orchestrator: releases pending tasks in batches and tells agents what to do next.
- Events: an append-only log of phase changes, approvals, reviews and task updates ('pl events list').`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("db", "PHASELINE_DB_PATH")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Int("batch-size", 0, "orchestrator batch size (overrides orchestrator.batch_size)")
	for _, name := range []string{"workspace", "db", "json", "log-level", "batch-size"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(worktreeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(orchCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{
		DBPath:    viper.GetString("db"),
		BatchSize: viper.GetInt("batch-size"),
		LogLevel:  viper.GetString("log-level"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), overrides())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func parseTaskNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &usageError{fmt.Sprintf("invalid task number %q", s)}
	}
	return n, nil
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

const (
	exitFailure  = 1
	exitInvalid  = 2
	exitNotFound = 3
)

type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// classify maps an error to its payload code and process exit code.
func classify(err error) (errorBody, int) {
	body := errorBody{Message: err.Error()}
	var ue *usageError
	var ce *worktree.CommandError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		body.Code = "not_found"
		return body, exitNotFound
	case engine.IsValidation(err), errors.As(err, &ue):
		body.Code = "bad_request"
		return body, exitInvalid
	case errors.As(err, &ce):
		body.Code = "git_failed"
		body.Details = map[string]any{"args": ce.Args, "output": ce.Output}
		return body, exitFailure
	}
	body.Code = "internal_error"
	return body, exitFailure
}

// reportError writes the JSON error payload to w and returns the exit code.
func reportError(w io.Writer, err error) int {
	body, code := classify(err)
	_ = writeJSON(w, errorPayload{Error: body})
	return code
}
