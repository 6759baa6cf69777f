package backend

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend talks to the OpenAI Chat Completions API.
type OpenAIBackend struct {
	desc   Descriptor
	client openai.Client
}

// NewOpenAIBackend creates a client for desc. Endpoint overrides the base URL.
func NewOpenAIBackend(desc Descriptor, opts FactoryOptions) (Backend, error) {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(desc.APIKey),
		option.WithMaxRetries(0),
	}
	if desc.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(desc.Endpoint))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAIBackend{
		desc:   desc,
		client: openai.NewClient(reqOpts...),
	}, nil
}

// Descriptor returns the descriptor the client was built from.
func (b *OpenAIBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *OpenAIBackend) params(req Request) (openai.ChatCompletionNewParams, error) {
	var image *Image
	if req.ImageRef != "" {
		img, err := LoadImage(req.ImageRef)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		image = &img
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	imageAt := lastUserIndex(req.Messages)
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			if image != nil && i == imageAt {
				messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart(msg.Content),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: image.DataURL(),
					}),
				}))
				continue
			}
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				arguments, err := encodeArguments(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, err
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: arguments,
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelFor(b.desc, req)),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.Parameters),
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

// Send makes a single Chat Completions call.
func (b *OpenAIBackend) Send(ctx context.Context, req Request) (*Response, error) {
	return b.Turn(ctx, req, nil)
}

// Turn makes one Chat Completions call with req.Tools offered. With emit
// set the call streams and the chunks are accumulated into one completion.
func (b *OpenAIBackend) Turn(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	params, err := b.params(req)
	if err != nil {
		return nil, err
	}

	if emit == nil {
		completion, err := b.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classify(KindOpenAI, err)
		}
		return openaiResponse(completion)
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(KindOpenAI, err)
	}
	return openaiResponse(&acc.ChatCompletion)
}

func openaiResponse(completion *openai.ChatCompletion) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, invalidResponse(KindOpenAI, "no choices returned")
	}

	choice := completion.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		Model:        completion.Model,
		FinishReason: string(choice.FinishReason),
		Usage: &TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(KindOpenAI, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

// Stream starts a streaming Chat Completions call.
func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	params, err := b.params(req)
	if err != nil {
		return nil, err
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	return newSSEChunks(KindOpenAI, stream, func(chunk openai.ChatCompletionChunk) string {
		if len(chunk.Choices) == 0 {
			return ""
		}
		return chunk.Choices[0].Delta.Content
	}), nil
}
