package backend

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// compatClient is the subset of the go-openai client used here.
type compatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req goopenai.ChatCompletionRequest) (*goopenai.ChatCompletionStream, error)
}

// CompatBackend talks to any OpenAI-compatible server: LM Studio, Ollama,
// OpenRouter, vLLM and similar.
type CompatBackend struct {
	desc   Descriptor
	client compatClient
}

// NewCompatBackend creates a client for desc.Endpoint.
func NewCompatBackend(desc Descriptor, opts FactoryOptions) (Backend, error) {
	cfg := goopenai.DefaultConfig(desc.APIKey)
	cfg.BaseURL = desc.Endpoint
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &CompatBackend{
		desc:   desc,
		client: goopenai.NewClientWithConfig(cfg),
	}, nil
}

// Descriptor returns the descriptor the client was built from.
func (b *CompatBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *CompatBackend) request(req Request, stream bool) (goopenai.ChatCompletionRequest, error) {
	var image *Image
	if req.ImageRef != "" {
		img, err := LoadImage(req.ImageRef)
		if err != nil {
			return goopenai.ChatCompletionRequest{}, err
		}
		image = &img
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	imageAt := lastUserIndex(req.Messages)
	for i, msg := range req.Messages {
		m := goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				arguments, err := encodeArguments(tc.Arguments)
				if err != nil {
					return goopenai.ChatCompletionRequest{}, err
				}
				m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: arguments,
					},
				})
			}
		case RoleTool:
			m.Role = goopenai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.ToolName
		}
		if image != nil && i == imageAt {
			m.Content = ""
			m.MultiContent = []goopenai.ChatMessagePart{
				{Type: goopenai.ChatMessagePartTypeText, Text: msg.Content},
				{
					Type: goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{
						URL:    image.DataURL(),
						Detail: goopenai.ImageURLDetailAuto,
					},
				},
			}
		}
		messages = append(messages, m)
	}

	cr := goopenai.ChatCompletionRequest{
		Model:       modelFor(b.desc, req),
		Messages:    messages,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, spec := range req.Tools {
		cr.Tools = append(cr.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return cr, nil
}

// Send makes a single chat completion call.
func (b *CompatBackend) Send(ctx context.Context, req Request) (*Response, error) {
	return b.Turn(ctx, req, nil)
}

// Turn makes one chat completion call with req.Tools offered. With emit set
// the call streams; tool call fragments are joined by their index.
func (b *CompatBackend) Turn(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	cr, err := b.request(req, emit != nil)
	if err != nil {
		return nil, err
	}

	if emit == nil {
		resp, err := b.client.CreateChatCompletion(ctx, cr)
		if err != nil {
			return nil, classify(KindCompat, err)
		}
		if len(resp.Choices) == 0 {
			return nil, invalidResponse(KindCompat, "no choices returned")
		}

		choice := resp.Choices[0]
		out := &Response{
			Content:      choice.Message.Content,
			Model:        resp.Model,
			FinishReason: string(choice.FinishReason),
			Usage: &TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			},
		}
		for i, tc := range choice.Message.ToolCalls {
			args, err := decodeArguments(KindCompat, tc.Function.Arguments)
			if err != nil {
				return nil, err
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        callID(tc.ID, tc.Function.Name, i),
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		return out, nil
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return nil, classify(KindCompat, err)
	}
	defer stream.Close()

	out := &Response{Model: modelFor(b.desc, req)}
	var content strings.Builder
	calls := map[int]*partialCall{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(KindCompat, err)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			out.FinishReason = string(choice.FinishReason)
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := len(calls)
			if tc.Index != nil {
				index = *tc.Index
			}
			pc, ok := calls[index]
			if !ok {
				pc = &partialCall{}
				calls[index] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.arguments.WriteString(tc.Function.Arguments)
		}
		if text := choice.Delta.Content; text != "" {
			content.WriteString(text)
			if err := emit(text); err != nil {
				return nil, err
			}
		}
	}

	out.Content = content.String()
	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for i, index := range indexes {
		pc := calls[index]
		args, err := decodeArguments(KindCompat, pc.arguments.String())
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        callID(pc.id, pc.name, i),
			Name:      pc.name,
			Arguments: args,
		})
	}
	return out, nil
}

// partialCall collects a streamed tool call.
type partialCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// Stream starts a streaming chat completion.
func (b *CompatBackend) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	cr, err := b.request(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return nil, classify(KindCompat, err)
	}
	return &compatStream{stream: stream}, nil
}

type compatStream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *compatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(KindCompat, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *compatStream) Close() error {
	return s.stream.Close()
}
