package backend

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiBackend talks to the Gemini API through the Google Gen AI SDK.
type GeminiBackend struct {
	desc Descriptor
	opts FactoryOptions

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGeminiBackend creates a client for desc. The SDK client is built lazily
// on the first request.
func NewGeminiBackend(desc Descriptor, opts FactoryOptions) (Backend, error) {
	return &GeminiBackend{desc: desc, opts: opts}, nil
}

// Descriptor returns the descriptor the client was built from.
func (b *GeminiBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *GeminiBackend) sdk(ctx context.Context) (*genai.Client, error) {
	b.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  b.desc.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if b.desc.Endpoint != "" {
			cfg.HTTPOptions.BaseURL = b.desc.Endpoint
		}
		if b.opts.HTTPClient != nil {
			cfg.HTTPClient = b.opts.HTTPClient
		}
		b.client, b.err = genai.NewClient(ctx, cfg)
	})
	if b.err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrBackendUnavailable, b.err)
	}
	return b.client, nil
}

func (b *GeminiBackend) content(req Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var image *Image
	if req.ImageRef != "" {
		img, err := LoadImage(req.ImageRef)
		if err != nil {
			return nil, nil, err
		}
		image = &img
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	system := req.SystemPrompt
	imageAt := lastUserIndex(req.Messages)
	contents := make([]*genai.Content, 0, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
		case RoleUser:
			parts := []*genai.Part{genai.NewPartFromText(msg.Content)}
			if image != nil && i == imageAt {
				parts = append(parts, geminiImagePart(*image))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		case RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, tc.Arguments))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, map[string]any{"output": msg.Content})
			// Calls are matched by name and order. Responses of one round
			// share a single user turn.
			if n := len(contents); n > 0 && i > 0 && req.Messages[i-1].Role == RoleTool {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 spec.Name,
				Description:          spec.Description,
				ParametersJsonSchema: spec.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return contents, config, nil
}

func geminiImagePart(img Image) *genai.Part {
	if img.Remote() {
		return genai.NewPartFromURI(img.URL, mimeFromURL(img.URL))
	}
	return genai.NewPartFromBytes(img.Data, img.MIMEType)
}

func mimeFromURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	}
	return "image/jpeg"
}

// Send makes a single GenerateContent call.
func (b *GeminiBackend) Send(ctx context.Context, req Request) (*Response, error) {
	return b.Turn(ctx, req, nil)
}

// Turn makes one GenerateContent call with req.Tools offered as function
// declarations. With emit set the call streams.
func (b *GeminiBackend) Turn(ctx context.Context, req Request, emit func(string) error) (*Response, error) {
	contents, config, err := b.content(req)
	if err != nil {
		return nil, err
	}
	client, err := b.sdk(ctx)
	if err != nil {
		return nil, err
	}
	model := modelFor(b.desc, req)

	out := &Response{Model: model}
	var content strings.Builder
	if emit == nil {
		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return nil, classify(KindGemini, err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return nil, invalidResponse(KindGemini, "no candidates returned")
		}
		geminiCollect(out, &content, resp)
		out.Content = content.String()
		return out, nil
	}

	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return nil, classify(KindGemini, err)
		}
		before := content.Len()
		geminiCollect(out, &content, resp)
		if text := content.String()[before:]; text != "" {
			if err := emit(text); err != nil {
				return nil, err
			}
		}
	}
	out.Content = content.String()
	return out, nil
}

// geminiCollect folds one response into out. Text goes to content; thought
// parts are skipped.
func geminiCollect(out *Response, content *strings.Builder, resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		out.FinishReason = string(candidate.FinishReason)
	}
	if candidate.Content == nil {
		return
	}
	for _, part := range candidate.Content.Parts {
		switch {
		case part == nil || part.Thought:
		case part.FunctionCall != nil:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        callID(part.FunctionCall.ID, part.FunctionCall.Name, len(out.ToolCalls)),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		case part.Text != "":
			content.WriteString(part.Text)
		}
	}
}

// Stream starts a GenerateContentStream call.
func (b *GeminiBackend) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	contents, config, err := b.content(req)
	if err != nil {
		return nil, err
	}
	client, err := b.sdk(ctx)
	if err != nil {
		return nil, err
	}

	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, modelFor(b.desc, req), contents, config))
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(KindGemini, err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
