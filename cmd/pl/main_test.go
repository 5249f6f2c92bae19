package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phaseline/internal/config"
	"phaseline/internal/repo"
	"phaseline/internal/worktree"
)

func TestReportErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"not found", fmt.Errorf("task 4: %w", repo.ErrNotFound), "not_found", exitNotFound},
		{"usage", &usageError{"invalid task number \"x\""}, "bad_request", exitInvalid},
		{"git", &worktree.CommandError{Args: []string{"worktree", "add"}, Output: "fatal", Err: errors.New("exit status 128")}, "git_failed", exitFailure},
		{"other", errors.New("disk full"), "internal_error", exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tc.exit, reportError(&buf, tc.err))
			var payload errorPayload
			require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
			assert.Equal(t, tc.code, payload.Error.Code)
			assert.Equal(t, tc.err.Error(), payload.Error.Message)
		})
	}
}

func TestParseTaskNumbers(t *testing.T) {
	got, err := parseTaskNumbers("1, 2,,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	_, err = parseTaskNumbers("1,two")
	assert.Error(t, err)

	_, err = parseTaskNumber("0")
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestConfigInitCreatesStateDir(t *testing.T) {
	dir := t.TempDir()
	viper.Set("workspace", dir)
	t.Cleanup(viper.Reset)

	cmd := configCmd()
	cmd.SetArgs([]string{"init"})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(dir, config.FileName))
	assert.DirExists(t, filepath.Join(dir, ".phaseline"))

	cmd = configCmd()
	cmd.SetArgs([]string{"init"})
	assert.Error(t, cmd.Execute(), "init must not overwrite an existing config")
}
