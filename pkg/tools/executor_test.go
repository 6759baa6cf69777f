package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/ragent/internal/metrics"
	"github.com/harun/ragent/pkg/backend"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []Parameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return params["message"].(string), nil
		},
	}
}

func newTestExecutor(opts Options) (*Executor, *metrics.Metrics) {
	m := metrics.NewMetrics()
	opts.Metrics = m
	return New(opts), m
}

func TestPolicyAllows(t *testing.T) {
	tests := []struct {
		name   string
		policy *Policy
		tool   string
		want   bool
	}{
		{name: "nil policy", policy: nil, tool: "read_file", want: true},
		{name: "wildcard", policy: &Policy{Allow: []string{"*"}}, tool: "read_file", want: true},
		{name: "listed", policy: &Policy{Allow: []string{"pwd"}}, tool: "pwd", want: true},
		{name: "not listed", policy: &Policy{Allow: []string{"pwd"}}, tool: "read_file", want: false},
		{name: "deny wins", policy: &Policy{Allow: []string{"*"}, Deny: []string{"http_get"}}, tool: "http_get", want: false},
		{name: "deny all", policy: &Policy{Allow: []string{"*"}, Deny: []string{"*"}}, tool: "pwd", want: false},
		{name: "empty allow", policy: &Policy{}, tool: "pwd", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.tool))
		})
	}
}

func TestExecutorRegisterInvalidDefinition(t *testing.T) {
	e, _ := newTestExecutor(Options{})
	noop := func(ctx context.Context, params map[string]any) (string, error) { return "", nil }

	tests := []struct {
		name string
		def  Definition
	}{
		{name: "empty name", def: Definition{Description: "Test", Handler: noop}},
		{name: "empty description", def: Definition{Name: "test", Handler: noop}},
		{name: "nil handler", def: Definition{Name: "test", Description: "Test"}},
		{
			name: "bad parameter type",
			def: Definition{
				Name:        "test",
				Description: "Test",
				Handler:     noop,
				Parameters:  []Parameter{{Name: "x", Type: "date", Description: "X"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, e.Register(tt.def))
		})
	}
	assert.Empty(t, e.Names())
}

func TestExecutorSpecs(t *testing.T) {
	e, _ := newTestExecutor(Options{Policy: &Policy{Allow: []string{"*"}, Deny: []string{"hidden"}}})
	require.NoError(t, e.Register(echoTool()))
	hidden := echoTool()
	hidden.Name = "hidden"
	require.NoError(t, e.Register(hidden))

	specs := e.Specs()
	require.Len(t, specs, 1, "denied tools are never offered")
	assert.Equal(t, "echo", specs[0].Name)
	assert.Equal(t, "object", specs[0].Parameters["type"])
	assert.Equal(t, []string{"message"}, specs[0].Parameters["required"])
	assert.Contains(t, specs[0].Parameters["properties"], "message")
}

func TestExecutorExecute(t *testing.T) {
	e, m := newTestExecutor(Options{})
	require.NoError(t, e.Register(echoTool()))

	t.Run("success", func(t *testing.T) {
		res := e.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
		assert.True(t, res.Success)
		assert.Equal(t, "hello", res.Output)
		assert.Equal(t, "hello", res.Text())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("echo", "success")))
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := e.Execute(context.Background(), "rm", nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Text(), "error: tool not found")
	})

	t.Run("missing required parameter", func(t *testing.T) {
		res := e.Execute(context.Background(), "echo", map[string]any{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "parameter validation failed")
	})

	t.Run("unexpected parameter", func(t *testing.T) {
		res := e.Execute(context.Background(), "echo", map[string]any{"message": "a", "extra": true})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "parameter validation failed")
		assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("echo", "error")))
	})
}

func TestExecutorHandlerError(t *testing.T) {
	e, _ := newTestExecutor(Options{})
	require.NoError(t, e.Register(Definition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	}))

	res := e.Execute(context.Background(), "broken", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "error: disk on fire", res.Text())
}

func TestExecutorTimeout(t *testing.T) {
	e, _ := newTestExecutor(Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, e.Register(Definition{
		Name:        "slow",
		Description: "Sleeps",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		},
	}))

	res := e.Execute(context.Background(), "slow", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
}

func TestExecutorTruncatesOutput(t *testing.T) {
	e, _ := newTestExecutor(Options{MaxOutputBytes: 8})
	require.NoError(t, e.Register(echoTool()))

	res := e.Execute(context.Background(), "echo", map[string]any{"message": strings.Repeat("x", 20)})
	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Equal(t, "xxxxxxxx\n... [output truncated]", res.Output)
}

func TestExecutorCallObserved(t *testing.T) {
	var seen []string
	e, _ := newTestExecutor(Options{
		OnCall: func(call backend.ToolCall, res Result) {
			seen = append(seen, call.Name+":"+res.Text())
		},
	})
	require.NoError(t, e.Register(echoTool()))

	var box backend.Toolbox = e
	out := box.Call(context.Background(), backend.ToolCall{
		ID:        "call_1",
		Name:      "echo",
		Arguments: map[string]any{"message": "hi"},
	})

	assert.Equal(t, "hi", out)
	assert.Equal(t, []string{"echo:hi"}, seen)
}
