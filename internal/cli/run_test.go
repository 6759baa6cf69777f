package cli

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	t.Run("buffered answer", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "Hello from the model")
		writeBackendConfig(t, home, "local", srv, "")

		stdout, stderr, err := executeCommand(t, "", "run", "say hi", "--config", "local")
		require.NoError(t, err)

		assert.Equal(t, "Hello from the model\n", stdout, "only the answer goes to stdout")
		assert.Contains(t, stderr, "Task: say hi")
		assert.Contains(t, stderr, "Config: local")
		assert.Contains(t, stderr, "Session: None")

		req := <-seen
		assert.False(t, req.Stream)
		require.NotEmpty(t, req.Messages)
		last := req.Messages[len(req.Messages)-1]
		assert.Equal(t, "user", last.Role)
		assert.Contains(t, last.Content, "say hi")

		_, statErr := os.Stat(filepath.Join(home, "sessions"))
		assert.True(t, os.IsNotExist(statErr), "sessionless runs never touch the store")
	})

	t.Run("streamed answer", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "one two three")
		writeBackendConfig(t, home, "streaming", srv, "stream: true\n")

		stdout, _, err := executeCommand(t, "", "run", "count", "--config", "streaming")
		require.NoError(t, err)
		assert.Equal(t, "one two three\n", stdout)
		assert.True(t, (<-seen).Stream)
	})

	t.Run("no-stream overrides the backend", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "whole")
		writeBackendConfig(t, home, "streaming", srv, "stream: true\n")

		stdout, _, err := executeCommand(t, "", "run", "count", "--config", "streaming", "--no-stream")
		require.NoError(t, err)
		assert.Equal(t, "whole\n", stdout)
		assert.False(t, (<-seen).Stream)
	})

	t.Run("piped context", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "looks fine")
		writeBackendConfig(t, home, "local", srv, "")

		_, stderr, err := executeCommand(t, "diff --git a/x b/x\n", "run", "review", "--config", "local")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Context: 19 chars")

		req := <-seen
		last := req.Messages[len(req.Messages)-1]
		assert.True(t, strings.HasPrefix(last.Content, "Context: diff --git a/x b/x"))
		assert.True(t, strings.HasSuffix(last.Content, "User: review"))
	})

	t.Run("session continuity", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "noted")
		writeBackendConfig(t, home, "local", srv, "")

		_, stderr, err := executeCommand(t, "", "run", "remember 42", "--config", "local", "--session", "notes")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Session: notes (new)")
		<-seen

		_, stderr, err = executeCommand(t, "", "run", "what number?", "--config", "local", "--session", "notes")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Session: notes (1 prior exchanges)")

		req := <-seen
		var contents []string
		for _, m := range req.Messages {
			contents = append(contents, m.Content)
		}
		assert.Contains(t, contents, "noted", "prior answer is sent as history")
		assert.FileExists(t, filepath.Join(home, "sessions", "notes.json"))
	})

	t.Run("tool call then answer", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := toolChatServer(t, "All done")
		writeBackendConfig(t, home, "local", srv, "")

		stdout, stderr, err := executeCommand(t, "", "run", "where am I?", "--config", "local", "--session", "notes")
		require.NoError(t, err)
		assert.Equal(t, "All done\n", stdout, "only the final answer is shown")
		assert.Contains(t, stderr, "tool: pwd")

		first := <-seen
		assert.NotEmpty(t, first.Tools)
		second := <-seen
		last := second.Messages[len(second.Messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, "call_1", last.ToolCallID)
		assert.NotEmpty(t, last.Content)

		data, err := os.ReadFile(filepath.Join(home, "sessions", "notes.json"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "All done")
		assert.NotContains(t, string(data), "call_1", "tool traffic is never committed")
	})

	t.Run("streamed tool call then answer", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := toolChatServer(t, "All done")
		writeBackendConfig(t, home, "streaming", srv, "stream: true\n")

		stdout, _, err := executeCommand(t, "", "run", "where am I?", "--config", "streaming")
		require.NoError(t, err)
		assert.Equal(t, "All done\n", stdout)
		assert.True(t, (<-seen).Stream)
		assert.Len(t, seen, 1)
	})

	t.Run("no-tools", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "plain")
		writeBackendConfig(t, home, "local", srv, "")

		_, _, err := executeCommand(t, "", "run", "hi", "--config", "local", "--no-tools")
		require.NoError(t, err)
		assert.Empty(t, (<-seen).Tools)
	})

	t.Run("descriptor disables tools", func(t *testing.T) {
		home := setupHome(t)
		srv, seen := chatServer(t, http.StatusOK, "plain")
		writeBackendConfig(t, home, "local", srv, "disable_tools: true\n")

		_, _, err := executeCommand(t, "", "run", "hi", "--config", "local")
		require.NoError(t, err)
		assert.Empty(t, (<-seen).Tools)
	})

	t.Run("unknown config", func(t *testing.T) {
		home := setupHome(t)

		_, _, err := executeCommand(t, "", "run", "hi", "--config", "nowhere/model", "--session", "s")
		require.Error(t, err)
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.NoFileExists(t, filepath.Join(home, "sessions", "s.json"))
	})

	t.Run("image on a text-only backend", func(t *testing.T) {
		home := setupHome(t)
		srv, _ := chatServer(t, http.StatusOK, "unused")
		writeBackendConfig(t, home, "local", srv, "")

		_, _, err := executeCommand(t, "", "run", "describe", "--config", "local", "--image", "shot.png")
		require.Error(t, err)
		assert.Equal(t, ExitConfig, ExitCode(err))
	})

	t.Run("backend failure", func(t *testing.T) {
		home := setupHome(t)
		srv, _ := chatServer(t, http.StatusInternalServerError, "")
		writeBackendConfig(t, home, "local", srv, "")

		stdout, _, err := executeCommand(t, "", "run", "hi", "--config", "local", "--session", "s")
		require.Error(t, err)
		assert.Equal(t, ExitBackend, ExitCode(err))
		assert.Empty(t, stdout)
		assert.NoFileExists(t, filepath.Join(home, "sessions", "s.json"))
	})

	t.Run("corrupt session", func(t *testing.T) {
		home := setupHome(t)
		srv, _ := chatServer(t, http.StatusOK, "unused")
		writeBackendConfig(t, home, "local", srv, "")
		require.NoError(t, os.MkdirAll(filepath.Join(home, "sessions"), 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(home, "sessions", "bad.json"), []byte("{oops"), 0o600))

		_, _, err := executeCommand(t, "", "run", "hi", "--config", "local", "--session", "bad")
		require.Error(t, err)
		assert.Equal(t, ExitSession, ExitCode(err))
	})

	t.Run("invalid session name", func(t *testing.T) {
		home := setupHome(t)
		srv, _ := chatServer(t, http.StatusOK, "unused")
		writeBackendConfig(t, home, "local", srv, "")

		_, _, err := executeCommand(t, "", "run", "hi", "--config", "local", "--session", "../escape")
		require.Error(t, err)
		assert.Equal(t, ExitSession, ExitCode(err))

		_, _, err = executeCommand(t, "", "run", "hi", "--config", "local", "--session", ".notes")
		require.Error(t, err)
		assert.Equal(t, ExitSession, ExitCode(err))
		assert.NoFileExists(t, filepath.Join(home, "sessions", ".notes.json"))
	})

	t.Run("missing task", func(t *testing.T) {
		setupHome(t)
		_, _, err := executeCommand(t, "", "run", "--config", "local")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, ExitCode(err))
	})

	t.Run("missing config flag", func(t *testing.T) {
		setupHome(t)
		_, _, err := executeCommand(t, "", "run", "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config")
	})
}
