package backend

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is used when the descriptor sets none; the
// Messages API requires a value.
const defaultAnthropicMaxTokens = 4096

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	desc   Descriptor
	client anthropic.Client
}

// NewAnthropicBackend creates a client for desc.
func NewAnthropicBackend(desc Descriptor, opts FactoryOptions) (Backend, error) {
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

	return &AnthropicBackend{
		desc:   desc,
		client: anthropic.NewClient(reqOpts...),
	}, nil
}

// Descriptor returns the descriptor the client was built from.
func (b *AnthropicBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *AnthropicBackend) params(req Request) (anthropic.MessageNewParams, error) {
	var image *Image
	if req.ImageRef != "" {
		img, err := LoadImage(req.ImageRef)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		image = &img
	}

	system := req.SystemPrompt
	imageAt := lastUserIndex(req.Messages)
	messages := []anthropic.MessageParam{}

	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			result := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			// Results of one round share a single user turn.
			if n := len(messages); n > 0 && i > 0 && req.Messages[i-1].Role == RoleTool {
				messages[n-1].Content = append(messages[n-1].Content, result)
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(result))
		case RoleSystem:
			// The Messages API has a single system field.
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
			if image != nil && i == imageAt {
				blocks = append(blocks, anthropicImageBlock(*image))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelFor(b.desc, req)),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	for _, spec := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.Parameters["properties"],
					Required:   requiredParams(spec.Parameters),
				},
			},
		})
	}
	return params, nil
}

// requiredParams reads the required list of a JSON schema object.
func requiredParams(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		names := make([]string, 0, len(required))
		for _, r := range required {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

func anthropicImageBlock(img Image) anthropic.ContentBlockParamUnion {
	if img.Remote() {
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: img.URL},
				},
			},
		}
	}
	return anthropic.NewImageBlockBase64(img.MIMEType, img.Base64())
}

// Send makes a single Messages call.
func (b *AnthropicBackend) Send(ctx context.Context, req Request) (*Response, error) {
	return b.Turn(ctx, req, nil)
}

// Turn makes one Messages call with req.Tools offered. With emit set the
// call streams and the events are accumulated into one message.
func (b *AnthropicBackend) Turn(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	params, err := b.params(req)
	if err != nil {
		return nil, err
	}

	if emit == nil {
		response, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classify(KindAnthropic, err)
		}
		return anthropicResponse(response)
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, invalidResponse(KindAnthropic, err.Error())
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			if err := emit(event.Delta.Text); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(KindAnthropic, err)
	}
	return anthropicResponse(&message)
}

func anthropicResponse(response *anthropic.Message) (*Response, error) {
	resp := &Response{
		Model:        string(response.Model),
		FinishReason: string(response.StopReason),
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}

	var content strings.Builder
	for _, block := range response.Content {
		switch blk := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(blk.Text)
		case anthropic.ToolUseBlock:
			args, err := decodeArguments(KindAnthropic, string(blk.Input))
			if err != nil {
				return nil, err
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        blk.ID,
				Name:      blk.Name,
				Arguments: args,
			})
		}
	}
	resp.Content = content.String()
	return resp, nil
}

// Stream starts a streaming Messages call.
func (b *AnthropicBackend) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	params, err := b.params(req)
	if err != nil {
		return nil, err
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	return newSSEChunks(KindAnthropic, stream, func(event anthropic.MessageStreamEventUnion) string {
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			return event.Delta.Text
		}
		return ""
	}), nil
}
