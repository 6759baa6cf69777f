package backend

import (
	"net"
	"net/url"
	"strings"
)

// Canonical backend kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindCompat    = "compat"
)

// kindAliases maps friendly kind names to a canonical kind and default endpoint.
var kindAliases = map[string]struct {
	kind     string
	endpoint string
}{
	"lmstudio":   {KindCompat, "http://localhost:1234/v1"},
	"ollama":     {KindCompat, "http://localhost:11434/v1"},
	"openrouter": {KindCompat, "https://openrouter.ai/api/v1"},
	"google":     {KindGemini, ""},
	"claude":     {KindAnthropic, ""},
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Descriptor names a backend and how to reach it.
type Descriptor struct {
	Name          string  `mapstructure:"name" yaml:"name"`
	Kind          string  `mapstructure:"kind" yaml:"kind"`
	Model         string  `mapstructure:"model" yaml:"model"`
	Endpoint      string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv     string  `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	SystemPrompt  string  `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	SupportsImage bool    `mapstructure:"supports_image" yaml:"supports_image"`
	Stream        bool    `mapstructure:"stream" yaml:"stream"`
	Temperature   float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TopP          float64 `mapstructure:"top_p" yaml:"top_p,omitempty"`
	MaxTokens     int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	DisableTools  bool    `mapstructure:"disable_tools" yaml:"disable_tools,omitempty"`
}

// Normalize resolves kind aliases and fills the alias's default endpoint.
// A descriptor without a kind is an OpenAI-compatible endpoint.
func (d Descriptor) Normalize() Descriptor {
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	if d.Kind == "" {
		d.Kind = KindCompat
	}
	if alias, ok := kindAliases[d.Kind]; ok {
		d.Kind = alias.kind
		if d.Endpoint == "" {
			d.Endpoint = alias.endpoint
		}
	}
	return d
}

// Hosted reports whether the backend needs an API key. Compat endpoints on
// the local machine do not.
func (d Descriptor) Hosted() bool {
	switch d.Kind {
	case KindOpenAI, KindAnthropic, KindGemini:
		return true
	case KindCompat:
		return !isLocalEndpoint(d.Endpoint)
	}
	return false
}

func isLocalEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Message is one chat turn. Assistant turns may carry tool calls; a tool
// turn answers the call named by ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolSpec describes a tool offered to the model. Parameters is a JSON
// schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Request is a fully built model request.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	// ImageRef attaches to the last user message.
	ImageRef         string
	ContextTruncated bool
	Temperature      float64
	TopP             float64
	MaxTokens        int
	Tools            []ToolSpec
}

// Response is the model's answer.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *TokenUsage
	ToolCalls    []ToolCall
	// ToolRounds counts the model calls that ended in tool use.
	ToolRounds int
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
