package backend

import (
	"io"
)

// sseStream is the iterator shape shared by the openai-go and anthropic SDK streams.
type sseStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// sseChunks adapts an SDK event stream to ChunkStream, skipping events that
// carry no text.
type sseChunks[T any] struct {
	kind    string
	stream  sseStream[T]
	text    func(T) string
	started bool
}

func newSSEChunks[T any](kind string, s sseStream[T], text func(T) string) *sseChunks[T] {
	return &sseChunks[T]{kind: kind, stream: s, text: text}
}

func (c *sseChunks[T]) Recv() (string, error) {
	for c.stream.Next() {
		c.started = true
		if t := c.text(c.stream.Current()); t != "" {
			return t, nil
		}
	}
	if err := c.stream.Err(); err != nil {
		return "", classify(c.kind, err)
	}
	if !c.started {
		return "", invalidResponse(c.kind, "stream ended without events")
	}
	return "", io.EOF
}

func (c *sseChunks[T]) Close() error {
	return c.stream.Close()
}
