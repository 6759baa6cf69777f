package backend

import (
	"context"
	"net/http"
)

// Backend sends one request and waits for the complete answer.
type Backend interface {
	Send(ctx context.Context, req Request) (*Response, error)
	Descriptor() Descriptor
}

// Streamer is implemented by backends that can deliver the answer in pieces.
type Streamer interface {
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// ChunkStream yields response text in arrival order. Recv returns io.EOF
// after the last chunk.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// FactoryOptions carries dependencies shared by all clients.
type FactoryOptions struct {
	HTTPClient *http.Client
}

// Factory builds a client for a validated descriptor.
type Factory func(desc Descriptor, opts FactoryOptions) (Backend, error)

func modelFor(desc Descriptor, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return desc.Model
}
