package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCallID string          `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

// chatServer serves an OpenAI-style chat endpoint and records each decoded request.
func chatServer(t *testing.T, handler func(w http.ResponseWriter, req capturedRequest)) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	seen := make(chan capturedRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req capturedRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		seen <- req
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func writeCompletion(w http.ResponseWriter, model, content string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":%q,
		"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`, model, content)
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func compatFor(t *testing.T, srv *httptest.Server) *CompatBackend {
	t.Helper()
	b, err := NewCompatBackend(Descriptor{Kind: KindCompat, Model: "qwen/qwen3-8b", Endpoint: srv.URL + "/v1"}, FactoryOptions{})
	require.NoError(t, err)
	return b.(*CompatBackend)
}

func sampleRequest() Request {
	return Request{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "first"},
			{Role: RoleAssistant, Content: "answer"},
			{Role: RoleUser, Content: "second"},
		},
	}
}

func TestCompatSend(t *testing.T) {
	srv, seen := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
		writeCompletion(w, "qwen/qwen3-8b", "hello back")
	})

	resp, err := compatFor(t, srv).Send(context.Background(), sampleRequest())
	require.NoError(t, err)
	got := <-seen

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, "qwen/qwen3-8b", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, &TokenUsage{InputTokens: 7, OutputTokens: 3}, resp.Usage)

	assert.Equal(t, "qwen/qwen3-8b", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.JSONEq(t, `"second"`, string(got.Messages[3].Content))
}

func TestCompatSendWithImage(t *testing.T) {
	srv, seen := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
		writeCompletion(w, "qwen3-vl-8b", "a cat")
	})

	req := sampleRequest()
	req.ImageRef = writeImage(t, pngHeader)
	_, err := compatFor(t, srv).Send(context.Background(), req)
	require.NoError(t, err)
	got := <-seen

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(got.Messages[3].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "image_url", parts[1]["type"])
	imageURL := parts[1]["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "data:image/png;base64,"))

	// Earlier user turns stay plain text.
	assert.JSONEq(t, `"first"`, string(got.Messages[1].Content))
}

func TestCompatSendInvalidImage(t *testing.T) {
	srv, _ := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
		t.Error("request should not be sent")
	})
	req := sampleRequest()
	req.ImageRef = "/definitely/missing.png"
	_, err := compatFor(t, srv).Send(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestCompatSendErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv, _ := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
			http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
		})
		_, err := compatFor(t, srv).Send(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		b, err := NewCompatBackend(Descriptor{Kind: KindCompat, Model: "m", Endpoint: url + "/v1"}, FactoryOptions{})
		require.NoError(t, err)
		_, err = b.Send(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("no choices", func(t *testing.T) {
		srv, _ := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"m","choices":[]}`)
		})
		_, err := compatFor(t, srv).Send(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv, _ := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
			<-release
		})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := compatFor(t, srv).Send(ctx, sampleRequest())
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestCompatStream(t *testing.T) {
	srv, seen := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
		writeSSE(w, "Hel", "", "lo", " world")
	})

	stream, err := compatFor(t, srv).Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	got := <-seen
	assert.True(t, got.Stream)
	assert.Equal(t, []string{"Hel", "lo", " world"}, chunks)
}

func TestCompatStreamServerError(t *testing.T) {
	srv, _ := chatServer(t, func(w http.ResponseWriter, req capturedRequest) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := compatFor(t, srv).Stream(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
