package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// AllowlistEntry permits a command. With Args set, the invocation must start
// with exactly those arguments.
type AllowlistEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Allowlist is the set of external commands tools may run.
type Allowlist []AllowlistEntry

// ReadOnlyCommands covers the inspection commands the builtin tools run.
var ReadOnlyCommands = Allowlist{
	{Command: "git", Args: []string{"diff"}},
	{Command: "git", Args: []string{"status"}},
	{Command: "git", Args: []string{"log"}},
	{Command: "rg"},
	{Command: "ps"},
	{Command: "cargo", Args: []string{"check"}},
}

// Allows reports whether command with args matches an entry.
func (a Allowlist) Allows(command string, args []string) bool {
	for _, entry := range a {
		if entry.Command != command {
			continue
		}
		if len(entry.Args) == 0 {
			return true
		}
		if len(args) >= len(entry.Args) && slices.Equal(entry.Args, args[:len(entry.Args)]) {
			return true
		}
	}
	return false
}

// ErrCommandFailed marks a command that ran and exited non-zero.
var ErrCommandFailed = errors.New("command failed")

// commandRunner runs allowlisted commands in a fixed directory.
type commandRunner struct {
	dir       string
	allowlist Allowlist
}

// run returns stdout, or stderr when stdout is empty. A non-zero exit is
// reported as ErrCommandFailed with the exit code in the error.
func (r commandRunner) run(ctx context.Context, command string, args ...string) (string, int, error) {
	if !r.allowlist.Allows(command, args) {
		return "", -1, fmt.Errorf("command not allowed: %s", strings.TrimSpace(command+" "+strings.Join(args, " ")))
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", -1, fmt.Errorf("%s is not installed or not in PATH", command)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	output := stdout.String()
	if strings.TrimSpace(output) == "" {
		output = stderr.String()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return output, code, fmt.Errorf("%w: %s exited with %d: %s", ErrCommandFailed, command, code, strings.TrimSpace(output))
	}
	if err != nil {
		return "", -1, fmt.Errorf("failed to run %s: %w", command, err)
	}
	return output, 0, nil
}
