package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuiltins(t *testing.T) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0o644))

	e, _ := newTestExecutor(Options{})
	require.NoError(t, RegisterBuiltins(e, BuiltinOptions{
		Root: root,
		Now:  func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) },
	}))
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	return e, resolved
}

func TestRegisterBuiltins(t *testing.T) {
	e, _ := newBuiltins(t)

	assert.Equal(t, []string{
		"cargo_check", "current_time", "git_diff", "git_log", "git_status", "http_get",
		"list_dir", "process_list", "pwd", "read_file", "ripgrep", "tree",
	}, e.Names())
}

func TestRegisterBuiltinsHonorsPolicy(t *testing.T) {
	e, _ := newTestExecutor(Options{Policy: &Policy{Allow: []string{"read_file", "pwd"}}})
	require.NoError(t, RegisterBuiltins(e, BuiltinOptions{Root: t.TempDir()}))

	assert.Equal(t, []string{"pwd", "read_file"}, e.Names())
}

func TestReadFile(t *testing.T) {
	e, _ := newBuiltins(t)
	ctx := context.Background()

	t.Run("relative path", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "src/main.go"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "package main\n", res.Output)
	})

	t.Run("limit", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "README.md", "max_bytes": 3})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "# d\n... [file truncated at 3 bytes]", res.Output)
	})

	t.Run("escapes root", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "../../etc/passwd"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "outside the project root")
	})

	t.Run("absolute path outside root", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "/etc/hosts"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "outside the project root")
	})

	t.Run("directory", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "src"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "is a directory")
	})

	t.Run("missing", func(t *testing.T) {
		res := e.Execute(ctx, "read_file", map[string]any{"path": "nope.txt"})
		assert.False(t, res.Success)
	})
}

func TestReadFileRejectsSymlinkOutOfRoot(t *testing.T) {
	e, root := newBuiltins(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("token"), 0o600))
	if err := os.Symlink(outside, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	res := e.Execute(context.Background(), "read_file", map[string]any{"path": "link.txt"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "outside the project root")
}

func TestListDir(t *testing.T) {
	e, _ := newBuiltins(t)

	res := e.Execute(context.Background(), "list_dir", nil)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "dir   src/")
	assert.Contains(t, res.Output, "file  README.md (7 bytes)")

	res = e.Execute(context.Background(), "list_dir", map[string]any{"path": "src/pkg"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "(empty directory)", res.Output)
}

func TestTree(t *testing.T) {
	e, root := newBuiltins(t)

	res := e.Execute(context.Background(), "tree", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, filepath.Base(root)+"/\n  README.md\n  src/\n    main.go\n    pkg/\n", res.Output)

	res = e.Execute(context.Background(), "tree", map[string]any{"max_depth": 1})
	require.True(t, res.Success, res.Error)
	assert.NotContains(t, res.Output, "main.go")
}

func TestPwdAndTime(t *testing.T) {
	e, root := newBuiltins(t)

	res := e.Execute(context.Background(), "pwd", nil)
	assert.Equal(t, root, res.Output)

	res = e.Execute(context.Background(), "current_time", nil)
	assert.Equal(t, "Sun, 01 Mar 2026 09:30:00 UTC", res.Output)
}

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e, _ := newBuiltins(t)
	ctx := context.Background()

	res := e.Execute(ctx, "http_get", map[string]any{"url": srv.URL + "/status"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, `{"ok":true}`, res.Output)

	res = e.Execute(ctx, "http_get", map[string]any{"url": srv.URL + "/missing"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "HTTP 404")

	res = e.Execute(ctx, "http_get", map[string]any{"url": "file:///etc/passwd"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "http or https")
}

func TestAllowlist(t *testing.T) {
	tests := []struct {
		command string
		args    []string
		want    bool
	}{
		{"git", []string{"status"}, true},
		{"git", []string{"log", "--oneline"}, true},
		{"git", []string{"push"}, false},
		{"git", nil, false},
		{"rg", []string{"--", "TODO", "."}, true},
		{"cargo", []string{"check"}, true},
		{"cargo", []string{"build"}, false},
		{"rm", []string{"-rf", "/"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ReadOnlyCommands.Allows(tt.command, tt.args), "%s %v", tt.command, tt.args)
	}
}

func TestCommandRunnerRefusesUnlisted(t *testing.T) {
	r := commandRunner{dir: t.TempDir(), allowlist: ReadOnlyCommands}

	_, _, err := r.run(context.Background(), "git", "push")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command not allowed: git push")
}

func TestGitTools(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	e, root := newBuiltins(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, ".git")))
	require.NoError(t, exec.Command("git", "init", "-q", root).Run())

	res := e.Execute(context.Background(), "git_status", nil)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "README.md")

	res = e.Execute(context.Background(), "git_diff", map[string]any{"path": "../outside"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "outside the project root")
}
