package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

// DefaultMaxToolRounds bounds the model calls one dispatch may spend on tools.
const DefaultMaxToolRounds = 25

const toolHint = "Read-only tools are available for inspecting the local project. " +
	"Use them instead of guessing file contents."

// Toolbox runs the tools offered to the model. Call never fails: a tool
// error is reported to the model as the call's result.
type Toolbox interface {
	Specs() []ToolSpec
	Call(ctx context.Context, call ToolCall) string
}

// ToolUser is implemented by backends whose models can call tools. Turn
// makes one model call with req.Tools offered. When emit is non-nil the
// call streams and text is passed to emit as it arrives.
type ToolUser interface {
	Turn(ctx context.Context, req Request, emit func(string) error) (*Response, error)
}

// WithTools returns b with a bounded tool loop around every dispatch. The
// model is re-asked with the tool results until it answers without calling
// a tool or maxRounds model calls have been spent. b is returned unchanged
// when it cannot use tools or the descriptor opts out.
func WithTools(b Backend, box Toolbox, maxRounds int) Backend {
	user, ok := b.(ToolUser)
	if !ok || box == nil || maxRounds <= 0 || b.Descriptor().DisableTools {
		return b
	}
	specs := box.Specs()
	if len(specs) == 0 {
		return b
	}
	return &toolLoop{
		inner:  b,
		user:   user,
		box:    box,
		specs:  specs,
		rounds: maxRounds,
	}
}

type toolLoop struct {
	inner  Backend
	user   ToolUser
	box    Toolbox
	specs  []ToolSpec
	rounds int
}

func (l *toolLoop) Descriptor() Descriptor {
	return l.inner.Descriptor()
}

// Unwrap returns the backend the loop drives.
func (l *toolLoop) Unwrap() Backend {
	return l.inner
}

// Send runs the loop and returns the final answer only.
func (l *toolLoop) Send(ctx context.Context, req Request) (*Response, error) {
	return l.run(ctx, req, nil)
}

// Stream runs the loop in the background. Text of every round reaches the
// stream as it arrives; Final returns the answer of the last round.
func (l *toolLoop) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &loopStream{
		chunks: make(chan string),
		cancel: cancel,
	}
	go func() {
		defer close(s.chunks)
		s.final, s.err = l.run(ctx, req, func(text string) error {
			select {
			case s.chunks <- text:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s, nil
}

func (l *toolLoop) run(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	kind := l.inner.Descriptor().Kind
	req.Tools = l.specs
	if req.SystemPrompt != "" {
		req.SystemPrompt += "\n\n" + toolHint
	} else {
		req.SystemPrompt = toolHint
	}
	messages := slices.Clone(req.Messages)

	for round := 0; round < l.rounds; round++ {
		req.Messages = messages
		resp, err := l.user.Turn(ctx, req, emit)
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) == 0 {
			resp.ToolRounds = round
			return resp, nil
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, classify(kind, err)
			}
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    l.box.Call(ctx, call),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}
	return nil, fmt.Errorf("%w: %s: no answer after %d tool rounds", ErrInvalidResponse, kind, l.rounds)
}

type loopStream struct {
	chunks chan string
	cancel context.CancelFunc

	// Written before chunks is closed.
	final *Response
	err   error
}

func (s *loopStream) Recv() (string, error) {
	if text, ok := <-s.chunks; ok {
		return text, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *loopStream) Close() error {
	s.cancel()
	for range s.chunks {
	}
	return nil
}

// Final returns the last round's answer once Recv has reported io.EOF.
func (s *loopStream) Final() *Response {
	return s.final
}

// decodeArguments parses the JSON object a model sent as tool arguments.
func decodeArguments(kind, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, invalidResponse(kind, "undecodable tool arguments: "+err.Error())
	}
	return args, nil
}

func encodeArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool arguments: %w", err)
	}
	return string(data), nil
}

// callID returns the model's call ID, or a stable one for providers that
// do not assign IDs.
func callID(id, name string, i int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", name, i)
}
