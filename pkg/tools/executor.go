package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/ragent/internal/metrics"
	"github.com/harun/ragent/internal/tracing"
	"github.com/harun/ragent/pkg/backend"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout bounds a single tool call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutputBytes caps the text returned to the model per call.
	DefaultMaxOutputBytes = 10 * 1024
)

// Policy decides which tools the model may call. Deny wins over Allow and
// "*" matches every tool.
type Policy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Allows reports whether name passes the policy. A nil policy allows all.
func (p *Policy) Allows(name string) bool {
	if p == nil {
		return true
	}
	for _, denied := range p.Deny {
		if denied == name || denied == "*" {
			return false
		}
	}
	for _, allowed := range p.Allow {
		if allowed == name || allowed == "*" {
			return true
		}
	}
	return false
}

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Handler runs a tool. The returned text is what the model sees.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Definition is a registered tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is the outcome of one call.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Truncated bool
	Duration  time.Duration
}

// Text is the tool message content sent back to the model.
func (r Result) Text() string {
	if r.Success {
		return r.Output
	}
	return "error: " + r.Error
}

// Options configures an Executor.
type Options struct {
	Policy         *Policy
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	// OnCall observes every finished call.
	OnCall func(call backend.ToolCall, res Result)
}

// Executor holds the registered tools and runs calls against them. It
// implements backend.Toolbox.
type Executor struct {
	policy    *Policy
	timeout   time.Duration
	maxOutput int
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onCall    func(call backend.ToolCall, res Result)

	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]map[string]any
	checks  map[string]*gojsonschema.Schema
}

// New returns an empty Executor.
func New(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	return &Executor{
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutputBytes,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		onCall:    opts.OnCall,
		tools:     make(map[string]*Definition),
		schemas:   make(map[string]map[string]any),
		checks:    make(map[string]*gojsonschema.Schema),
	}
}

// Register adds def. Tools the policy rejects are skipped silently so the
// model is never offered them.
func (e *Executor) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if !e.policy.Allows(def.Name) {
		e.logger.Debug().Str("tool", def.Name).Msg("Tool disabled by policy")
		return nil
	}

	schema := parameterSchema(def)
	check, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema
	e.checks[def.Name] = check
	return nil
}

// Names returns the registered tool names in order.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the tools as offered to the model, ordered by name.
func (e *Executor) Specs() []backend.ToolSpec {
	names := e.Names()

	e.mu.RLock()
	defer e.mu.RUnlock()
	specs := make([]backend.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, backend.ToolSpec{
			Name:        name,
			Description: e.tools[name].Description,
			Parameters:  e.schemas[name],
		})
	}
	return specs
}

// Call runs call and renders the result for the model.
func (e *Executor) Call(ctx context.Context, call backend.ToolCall) string {
	res := e.Execute(ctx, call.Name, call.Arguments)
	if e.onCall != nil {
		e.onCall(call, res)
	}
	return res.Text()
}

// Execute runs the named tool with params.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) Result {
	ctx, span := tracing.StartSpan(ctx, "ragent.tools", "tool_call",
		attribute.String("tool.name", name),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	start := time.Now()
	res := e.execute(ctx, name, params)
	res.Duration = time.Since(start)

	status := "success"
	if !res.Success {
		status = "error"
		span.SetStatus(codes.Error, res.Error)
	}
	e.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	e.metrics.ToolCallDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	span.SetAttributes(
		attribute.Bool("tool.success", res.Success),
		attribute.Bool("tool.truncated", res.Truncated),
	)

	event := logger.Debug()
	if !res.Success {
		event = logger.Warn().Str("error", res.Error)
	}
	event.
		Str("tool", name).
		Dur("duration", res.Duration).
		Bool("truncated", res.Truncated).
		Msg("Tool call finished")
	return res
}

func (e *Executor) execute(ctx context.Context, name string, params map[string]any) Result {
	e.mu.RLock()
	tool := e.tools[name]
	check := e.checks[name]
	e.mu.RUnlock()

	if tool == nil {
		return Result{Error: fmt.Sprintf("tool not found: %s", name)}
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := validateParameters(check, params); err != nil {
		return Result{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := tool.Handler(ctx, params)
		done <- outcome{output, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{Error: out.err.Error()}
		}
		output, truncated := e.truncate(out.output)
		return Result{Success: true, Output: output, Truncated: truncated}
	case <-ctx.Done():
		return Result{Error: fmt.Sprintf("tool execution timeout after %v", e.timeout)}
	}
}

func (e *Executor) truncate(output string) (string, bool) {
	if len(output) <= e.maxOutput {
		return output, false
	}
	return output[:e.maxOutput] + "\n... [output truncated]", true
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

// parameterSchema builds the JSON schema object for def's parameters.
func parameterSchema(def Definition) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, param := range def.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(check *gojsonschema.Schema, params map[string]any) error {
	if check == nil {
		return nil
	}
	result, err := check.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}
