package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/ragent/internal/metrics"
	"github.com/harun/ragent/internal/tracing"
	"github.com/harun/ragent/pkg/backend"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a dispatch when none is configured.
const DefaultTimeout = 120 * time.Second

const (
	modeBuffered    = "buffered"
	modeIncremental = "incremental"
)

// ChunkSink receives response text as it becomes visible. In buffered mode
// it is called once with the whole answer.
type ChunkSink interface {
	WriteChunk(text string) error
}

// ChunkSinkFunc adapts a function to ChunkSink.
type ChunkSinkFunc func(text string) error

// WriteChunk calls f.
func (f ChunkSinkFunc) WriteChunk(text string) error {
	return f(text)
}

// SinkError reports that the response could not be written out.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return "failed to write response: " + e.Err.Error()
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Timeout       time.Duration
	ForceBuffered bool
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Dispatcher sends a built request exactly once.
type Dispatcher struct {
	timeout       time.Duration
	forceBuffered bool
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// NewDispatcher returns a Dispatcher. A non-positive timeout selects DefaultTimeout.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	return &Dispatcher{
		timeout:       cfg.Timeout,
		forceBuffered: cfg.ForceBuffered,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Incremental reports whether b would be dispatched in incremental mode.
func (d *Dispatcher) Incremental(b backend.Backend) bool {
	if d.forceBuffered || !b.Descriptor().Stream {
		return false
	}
	_, ok := b.(backend.Streamer)
	return ok
}

// Dispatch sends req to b and returns the complete response. Cancelling ctx
// yields ErrInterrupted; the configured timeout yields backend.ErrTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, b backend.Backend, req backend.Request, sink ChunkSink) (*backend.Response, error) {
	desc := b.Descriptor()
	mode := modeBuffered
	if d.Incremental(b) {
		mode = modeIncremental
	}

	ctx, span := tracing.StartSpan(ctx, "ragent.agent", "dispatch",
		attribute.String("backend.kind", desc.Kind),
		attribute.String("backend.model", desc.Model),
		attribute.String("dispatch.mode", mode),
		attribute.Int("request.messages", len(req.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger)

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	var (
		resp *backend.Response
		err  error
	)
	if mode == modeIncremental {
		resp, err = d.incremental(dctx, b.(backend.Streamer), desc, req, sink)
	} else {
		resp, err = d.buffered(dctx, b, req, sink)
	}
	elapsed := time.Since(start)
	d.metrics.DispatchDuration.WithLabelValues(desc.Kind, mode).Observe(elapsed.Seconds())

	if err != nil {
		err = d.mapError(ctx, dctx, desc.Kind, err)
		d.metrics.DispatchErrorsTotal.WithLabelValues(desc.Kind, errorType(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().Err(err).Str("mode", mode).Dur("elapsed", elapsed).Msg("Dispatch failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("response.bytes", len(resp.Content)),
		attribute.Int("response.tool_rounds", resp.ToolRounds),
	)
	logger.Debug().
		Str("mode", mode).
		Int("bytes", len(resp.Content)).
		Int("tool_rounds", resp.ToolRounds).
		Dur("elapsed", elapsed).
		Msg("Dispatch completed")
	return resp, nil
}

func (d *Dispatcher) buffered(ctx context.Context, b backend.Backend, req backend.Request, sink ChunkSink) (*backend.Response, error) {
	resp, err := b.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: %s: empty response", backend.ErrInvalidResponse, b.Descriptor().Kind)
	}
	if sink != nil {
		if err := sink.WriteChunk(resp.Content); err != nil {
			return nil, &SinkError{Err: err}
		}
	}
	return resp, nil
}

// incremental runs the stream producer and the sink consumer concurrently.
// The first failure on either side cancels the other.
func (d *Dispatcher) incremental(ctx context.Context, s backend.Streamer, desc backend.Descriptor, req backend.Request, sink ChunkSink) (*backend.Response, error) {
	g, gctx := errgroup.WithContext(ctx)

	stream, err := s.Stream(gctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make(chan string, 16)
	g.Go(func() error {
		defer close(chunks)
		for {
			text, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case chunks <- text:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var content strings.Builder
	g.Go(func() error {
		for text := range chunks {
			content.WriteString(text)
			if sink == nil {
				continue
			}
			if err := sink.WriteChunk(text); err != nil {
				return &SinkError{Err: err}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &backend.Response{
		Content:      content.String(),
		Model:        modelName(desc, req),
		FinishReason: "stop",
	}
	// A tool loop shows every round but only its last answer is kept.
	if f, ok := stream.(finalStream); ok && f.Final() != nil {
		resp = f.Final()
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: %s: empty response", backend.ErrInvalidResponse, desc.Kind)
	}
	return resp, nil
}

type finalStream interface {
	Final() *backend.Response
}

// mapError turns context errors into the run's vocabulary. parent is the
// caller's context and dctx the one carrying the dispatch deadline.
func (d *Dispatcher) mapError(parent, dctx context.Context, kind string, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	case errors.Is(err, backend.ErrTimeout):
		return err
	case errors.Is(dctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: no answer within %s", backend.ErrTimeout, kind, d.timeout)
	case errors.Is(err, backend.ErrBackendUnavailable),
		errors.Is(err, backend.ErrInvalidResponse),
		errors.Is(err, backend.ErrInvalidImage),
		errors.Is(err, backend.ErrUnsupportedCapability):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", backend.ErrBackendUnavailable, kind, err)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, backend.ErrTimeout):
		return "timeout"
	case errors.Is(err, backend.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, backend.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, backend.ErrBackendUnavailable):
		return "unavailable"
	}
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return "sink"
	}
	return "other"
}

func modelName(desc backend.Descriptor, req backend.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return desc.Model
}
