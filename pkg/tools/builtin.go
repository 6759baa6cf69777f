package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultReadBytes = 200000
	defaultTreeDepth = 3
	maxTreeEntries   = 500
	maxFetchBytes    = 1 << 20
)

// BuiltinOptions configures the read-only tool set.
type BuiltinOptions struct {
	// Root confines every path argument. Defaults to the working directory.
	Root       string
	Allowlist  Allowlist
	HTTPClient *http.Client
	Now        func() time.Time
}

// RegisterBuiltins registers the read-only inspection tools on e.
func RegisterBuiltins(e *Executor, opts BuiltinOptions) error {
	if e == nil {
		return errors.New("tool executor is required")
	}
	root, err := workspaceRoot(opts.Root)
	if err != nil {
		return err
	}
	if opts.Allowlist == nil {
		opts.Allowlist = ReadOnlyCommands
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := builtins{
		root:   root,
		runner: commandRunner{dir: root, allowlist: opts.Allowlist},
		client: opts.HTTPClient,
		now:    opts.Now,
	}
	defs := []Definition{
		b.listDir(),
		b.tree(),
		b.readFile(),
		b.pwd(),
		b.currentTime(),
		b.ripgrep(),
		b.gitDiff(),
		b.gitStatus(),
		b.gitLog(),
		b.processList(),
		b.cargoCheck(),
		b.httpGet(),
	}
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

type builtins struct {
	root   string
	runner commandRunner
	client *http.Client
	now    func() time.Time
}

func (b builtins) listDir() Definition {
	return Definition{
		Name:        "list_dir",
		Description: "List the files and directories at a path inside the project (defaults to the project root).",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the project root"},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			dir, err := resolvePath(b.root, stringParam(params, "path"), true)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return "", err
			}

			var out strings.Builder
			for _, entry := range entries {
				if entry.IsDir() {
					fmt.Fprintf(&out, "dir   %s/\n", entry.Name())
					continue
				}
				size := int64(0)
				if info, err := entry.Info(); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(&out, "file  %s (%d bytes)\n", entry.Name(), size)
			}
			if out.Len() == 0 {
				return "(empty directory)", nil
			}
			return out.String(), nil
		},
	}
}

func (b builtins) tree() Definition {
	return Definition{
		Name:        "tree",
		Description: "Show the directory hierarchy under a path inside the project. Skips .git.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the project root"},
			{Name: "max_depth", Type: "integer", Description: "Levels to descend (default 3)", Default: defaultTreeDepth},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			dir, err := resolvePath(b.root, stringParam(params, "path"), true)
			if err != nil {
				return "", err
			}
			depth := intParam(params, "max_depth", defaultTreeDepth)
			if depth <= 0 {
				depth = defaultTreeDepth
			}

			var out strings.Builder
			out.WriteString(filepath.Base(dir) + "/\n")
			n := 0
			if err := walkTree(ctx, &out, dir, 1, depth, &n); err != nil {
				return "", err
			}
			if n >= maxTreeEntries {
				fmt.Fprintf(&out, "... (stopped after %d entries)\n", maxTreeEntries)
			}
			return out.String(), nil
		},
	}
}

func walkTree(ctx context.Context, out *strings.Builder, dir string, level, maxDepth int, n *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", level)
	for _, entry := range entries {
		if *n >= maxTreeEntries {
			return nil
		}
		if entry.Name() == ".git" {
			continue
		}
		*n++
		if !entry.IsDir() {
			out.WriteString(indent + entry.Name() + "\n")
			continue
		}
		out.WriteString(indent + entry.Name() + "/\n")
		if level < maxDepth {
			if err := walkTree(ctx, out, filepath.Join(dir, entry.Name()), level+1, maxDepth, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b builtins) readFile() Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a text file inside the project.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the project root", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)", Default: defaultReadBytes},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			target, err := resolvePath(b.root, stringParam(params, "path"), false)
			if err != nil {
				return "", err
			}
			data, truncated, err := readFileWithLimit(target, int64(intParam(params, "max_bytes", defaultReadBytes)))
			if err != nil {
				return "", err
			}
			if truncated {
				return string(data) + fmt.Sprintf("\n... [file truncated at %d bytes]", len(data)), nil
			}
			return string(data), nil
		},
	}
}

func (b builtins) pwd() Definition {
	return Definition{
		Name:        "pwd",
		Description: "Print the project root directory the tools operate in.",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return b.root, nil
		},
	}
}

func (b builtins) currentTime() Definition {
	return Definition{
		Name:        "current_time",
		Description: "Return the current local date and time.",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return b.now().Format(time.RFC1123), nil
		},
	}
}

func (b builtins) ripgrep() Definition {
	return Definition{
		Name:        "ripgrep",
		Description: "Search file contents in the project with ripgrep. Returns matching lines with file names and line numbers.",
		Parameters: []Parameter{
			{Name: "pattern", Type: "string", Description: "Text or regular expression to search for", Required: true},
			{Name: "path", Type: "string", Description: "File or directory to search, relative to the project root"},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			pattern := stringParam(params, "pattern")
			if pattern == "" {
				return "", errors.New("pattern is required")
			}
			target, err := resolvePath(b.root, stringParam(params, "path"), true)
			if err != nil {
				return "", err
			}
			out, code, err := b.runner.run(ctx, "rg", "--line-number", "--no-heading", "--color", "never", "--", pattern, target)
			if code == 1 {
				return "no matches", nil
			}
			return out, err
		},
	}
}

func (b builtins) gitDiff() Definition {
	return Definition{
		Name:        "git_diff",
		Description: "Show unstaged changes in the project's git repository.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Limit the diff to this path"},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			args := []string{"diff"}
			if p := stringParam(params, "path"); p != "" {
				target, err := resolvePath(b.root, p, true)
				if err != nil {
					return "", err
				}
				args = append(args, "--", target)
			}
			out, _, err := b.runner.run(ctx, "git", args...)
			if err == nil && strings.TrimSpace(out) == "" {
				return "no changes", nil
			}
			return out, err
		},
	}
}

func (b builtins) gitStatus() Definition {
	return Definition{
		Name:        "git_status",
		Description: "Show the working tree status of the project's git repository.",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			out, _, err := b.runner.run(ctx, "git", "status")
			return out, err
		},
	}
}

func (b builtins) gitLog() Definition {
	return Definition{
		Name:        "git_log",
		Description: "Show recent commits of the project's git repository, one per line.",
		Parameters: []Parameter{
			{Name: "limit", Type: "integer", Description: "Number of commits (default 20)", Default: 20},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			limit := intParam(params, "limit", 20)
			if limit <= 0 {
				limit = 20
			}
			out, _, err := b.runner.run(ctx, "git", "log", "--oneline", "-n", strconv.Itoa(limit))
			return out, err
		},
	}
}

func (b builtins) processList() Definition {
	return Definition{
		Name:        "process_list",
		Description: "List the processes running on this machine.",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			out, _, err := b.runner.run(ctx, "ps", "aux")
			return out, err
		},
	}
}

func (b builtins) cargoCheck() Definition {
	return Definition{
		Name:        "cargo_check",
		Description: "Run 'cargo check' in the project and return the compiler diagnostics.",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			out, code, err := b.runner.run(ctx, "cargo", "check", "--color", "never")
			if errors.Is(err, ErrCommandFailed) {
				// Diagnostics are the answer, not a tool failure.
				return fmt.Sprintf("cargo check failed (exit %d):\n%s", code, out), nil
			}
			return out, err
		},
	}
}

func (b builtins) httpGet() Definition {
	return Definition{
		Name:        "http_get",
		Description: "Fetch a URL with an HTTP GET request and return the response body.",
		Parameters: []Parameter{
			{Name: "url", Type: "string", Description: "http or https URL to fetch", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			raw := stringParam(params, "url")
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", fmt.Errorf("url must be an absolute http or https URL: %q", raw)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("User-Agent", "ragent")
			resp, err := b.client.Do(req)
			if err != nil {
				return "", fmt.Errorf("failed to fetch %s: %w", u.Redacted(), err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
			if err != nil {
				return "", fmt.Errorf("failed to read response body: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return "", fmt.Errorf("failed to fetch %s: HTTP %d", u.Redacted(), resp.StatusCode)
			}
			return string(body), nil
		},
	}
}

func workspaceRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// resolvePath maps value to a path inside root. Symlinks that lead outside
// root are rejected. An empty value is root itself when optional is set.
func resolvePath(root, value string, optional bool) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if optional {
			return root, nil
		}
		return "", errors.New("path is required")
	}
	if strings.Contains(value, "://") {
		return "", errors.New("path must be a local file")
	}

	candidate := value
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !within(root, candidate) {
		return "", fmt.Errorf("path %q is outside the project root", value)
	}
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil && !within(root, resolved) {
		return "", fmt.Errorf("path %q is outside the project root", value)
	}
	return candidate, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	if limit <= 0 {
		limit = defaultReadBytes
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit+1); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	if int64(buf.Len()) > limit {
		return buf.Bytes()[:limit], true, nil
	}
	return buf.Bytes(), false, nil
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}
