package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type testEnv struct {
	config  string
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	dir := t.TempDir()
	return &testEnv{
		config:  filepath.Join(dir, "config.yaml"),
		dataDir: filepath.Join(dir, "data"),
	}
}

// run executes the CLI and returns what it wrote to stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	full := append([]string{"convoy", "--log-level", "error", "--config", e.config, "--data-dir", e.dataDir}, args...)
	err := app.Run(full)
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, env.config)
	assert.FileExists(t, env.config)

	_, err = env.run(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = env.run(t, "init", "--force")
	require.NoError(t, err)
}

func TestAccountCommands(t *testing.T) {
	env := newTestEnv(t)
	source := t.TempDir()

	t.Run("provider is required", func(t *testing.T) {
		_, err := env.run(t, "account", "add", "me")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("id is required", func(t *testing.T) {
		_, err := env.run(t, "account", "add", "--provider", "export")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "account id is required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := env.run(t, "account", "add", "--provider", "nope", "me")
		require.Error(t, err)
	})

	t.Run("add list remove", func(t *testing.T) {
		out, err := env.run(t, "account", "add", "--provider", "export", "--source", source, "--email", "me@example.com", "me")
		require.NoError(t, err)
		assert.Contains(t, out, "added export/me")

		out, err = env.run(t, "account", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "export/me")
		assert.Contains(t, out, "me@example.com")

		_, err = env.run(t, "account", "remove", "--provider", "export", "me")
		require.NoError(t, err)

		out, err = env.run(t, "account", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "no accounts registered")
	})
}

func TestPullWithoutAccounts(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "pull")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accounts")

	_, err = env.run(t, "pull", "--new-only", "--workers", "2", "--fetch-workers", "2", "--media-workers", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accounts")
}

func TestEmptyArchiveReports(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "conversations")

	out, err = env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no pulls recorded")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no conversations archived")

	out, err = env.run(t, "search", "--mode", "fts", "lighthouse")
	require.NoError(t, err)
	assert.Contains(t, out, "no matches")
}

func TestSearchCommandArguments(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing query", args: []string{"search"}, wantErr: "query is required"},
		{name: "bad mode", args: []string{"search", "--mode", "fuzzy", "x"}, wantErr: "unknown mode"},
		{name: "bad level", args: []string{"search", "--level", "paragraph", "x"}, wantErr: "paragraph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestShowUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "show", "--provider", "export", "missing")
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
		_, err := parseLogLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := parseLogLevel("verbose")
	assert.Error(t, err)
}
