package agent

import (
	"fmt"
	"strings"

	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/ingest"
	"github.com/harun/ragent/pkg/session"
)

// DefaultSystemPrompt is used when the descriptor carries none.
const DefaultSystemPrompt = "You are a helpful assistant. Follow the user's instructions strictly. " +
	"When context is supplied, ground your answer in it."

// BuildInput is everything that shapes one request.
type BuildInput struct {
	Task       string
	Blob       ingest.Blob
	Transcript session.Transcript
	ImageRef   string
	Window     session.WindowPolicy
	Descriptor backend.Descriptor
	Plan       string
}

// Build assembles the request for a run. Prior exchanges inside the window
// come first as user/assistant pairs, followed by the current message.
func Build(in BuildInput) (backend.Request, error) {
	if strings.TrimSpace(in.Task) == "" {
		return backend.Request{}, ErrEmptyTask
	}

	history := session.Window(in.Transcript.Exchanges, in.Window)
	messages := make([]backend.Message, 0, 2*len(history)+1)
	for _, ex := range history {
		messages = append(messages,
			backend.Message{Role: backend.RoleUser, Content: ex.Task},
			backend.Message{Role: backend.RoleAssistant, Content: ex.Response},
		)
	}
	messages = append(messages, backend.Message{
		Role:    backend.RoleUser,
		Content: UserMessage(in.Task, in.Blob),
	})

	return backend.Request{
		Model:            in.Descriptor.Model,
		SystemPrompt:     systemPrompt(in.Descriptor.SystemPrompt, in.Plan),
		Messages:         messages,
		ImageRef:         in.ImageRef,
		ContextTruncated: in.Blob.Truncated,
		Temperature:      in.Descriptor.Temperature,
		TopP:             in.Descriptor.TopP,
		MaxTokens:        in.Descriptor.MaxTokens,
	}, nil
}

// UserMessage combines the task with any piped context.
func UserMessage(task string, blob ingest.Blob) string {
	if blob.Empty() {
		return task
	}
	var b strings.Builder
	b.WriteString("Context: ")
	b.WriteString(blob.Text)
	if blob.Truncated {
		fmt.Fprintf(&b, "\n[context truncated: kept %d bytes]", blob.Bytes)
	}
	b.WriteString("\n\n User: ")
	b.WriteString(task)
	return b.String()
}

func systemPrompt(prompt, plan string) string {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	if plan = strings.TrimSpace(plan); plan != "" {
		prompt += "\n\nPlan: " + plan
	}
	return prompt
}
