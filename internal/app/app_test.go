package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phaseline.yml"), []byte("orchestrator:\n  batch_size: 5\nlog:\n  level: debug\n"), 0o644))

	cfg, err := ResolveConfig(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Orchestrator.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	cfg, err = ResolveConfig(dir, Overrides{BatchSize: 2, DBPath: "state/x.db"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Orchestrator.BatchSize)
	assert.Equal(t, "state/x.db", cfg.Database.Path)

	_, err = ResolveConfig(dir, Overrides{LogFormat: "xml"})
	assert.Error(t, err)
}

func TestOpenWiresWorkspace(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), dir, Overrides{DBPath: "custom/pl.db", LogLevel: "error"})
	require.NoError(t, err)
	defer a.Close()

	assert.FileExists(t, filepath.Join(dir, "custom", "pl.db"))
	assert.Equal(t, 3, a.Orchestrator.BatchSize)

	p, err := a.Engine.CreateProject(context.Background(), "demo", dir)
	require.NoError(t, err)
	st, err := a.Orchestrator.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", st.Action)
}
