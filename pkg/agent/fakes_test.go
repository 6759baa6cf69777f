package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/ingest"
	"github.com/harun/ragent/pkg/session"
)

// fakeBackend answers every Send with reply, or with the result of sendFn.
type fakeBackend struct {
	desc   backend.Descriptor
	reply  string
	err    error
	sendFn func(ctx context.Context, req backend.Request) (*backend.Response, error)

	mu       sync.Mutex
	requests []backend.Request
}

func newFakeBackend(reply string) *fakeBackend {
	return &fakeBackend{
		desc: backend.Descriptor{
			Name:  "local-test",
			Kind:  backend.KindCompat,
			Model: "test-model",
		},
		reply: reply,
	}
}

func (f *fakeBackend) Descriptor() backend.Descriptor {
	return f.desc
}

func (f *fakeBackend) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Response{Content: f.reply, Model: f.desc.Model, FinishReason: "stop"}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) lastRequest() backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeStreamer delivers chunks one by one, then recvErr if set.
type fakeStreamer struct {
	*fakeBackend
	chunks  []string
	recvErr error
	// block makes Recv wait for the stream context after the last chunk.
	block bool
	final *backend.Response
}

func newFakeStreamer(chunks ...string) *fakeStreamer {
	b := newFakeBackend(strings.Join(chunks, ""))
	b.desc.Stream = true
	return &fakeStreamer{fakeBackend: b, chunks: chunks}
}

func (f *fakeStreamer) Stream(ctx context.Context, req backend.Request) (backend.ChunkStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return &fakeChunkStream{ctx: ctx, chunks: f.chunks, err: f.recvErr, block: f.block, final: f.final}, nil
}

type fakeChunkStream struct {
	ctx    context.Context
	chunks []string
	err    error
	block  bool
	final  *backend.Response
	closed bool
}

func (s *fakeChunkStream) Recv() (string, error) {
	if len(s.chunks) > 0 {
		next := s.chunks[0]
		s.chunks = s.chunks[1:]
		return next, nil
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeChunkStream) Final() *backend.Response { return s.final }

func (s *fakeChunkStream) Close() error {
	s.closed = true
	return nil
}

// memStore is an in-memory session.Store.
type memStore struct {
	mu           sync.Mutex
	data         map[string]session.Transcript
	loadErr      error
	persistErr   error
	persistCalls int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]session.Transcript)}
}

func (m *memStore) Load(ctx context.Context, name string) (session.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return session.Transcript{}, m.loadErr
	}
	t, ok := m.data[name]
	if !ok {
		return session.NewTranscript(name), nil
	}
	return t, nil
}

func (m *memStore) Persist(ctx context.Context, name string, t session.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistCalls++
	if m.persistErr != nil {
		return m.persistErr
	}
	m.data[name] = t
	return nil
}

func (m *memStore) List(ctx context.Context) ([]session.Info, error) {
	return nil, nil
}

func (m *memStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return session.ErrNotFound
	}
	delete(m.data, name)
	return nil
}

func (m *memStore) Close() error {
	return nil
}

func (m *memStore) persisted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistCalls
}

// recordingSink collects every chunk it is given.
type recordingSink struct {
	mu     sync.Mutex
	chunks []string
	err    error
}

func (s *recordingSink) WriteChunk(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, text)
	return nil
}

func (s *recordingSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks, "")
}

// failingReader fails any attempt to read it.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stdin must not be read")
}

func pipedIngestor(maxBytes int) *ingest.Ingestor {
	return ingest.New(maxBytes, ingest.WithTerminalFunc(func(uintptr) bool { return false }))
}
