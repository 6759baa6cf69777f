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
	"github.com/harun/ragent/pkg/ingest"
	"github.com/harun/ragent/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of a run.
type State string

const (
	StateStart           State = "start"
	StateContextIngested State = "context_ingested"
	StateSessionLoaded   State = "session_loaded"
	StateRequestBuilt    State = "request_built"
	StateDispatching     State = "dispatching"
	StateCommitted       State = "committed"
	StateDispatchFailed  State = "dispatch_failed"
	// StateCommitFailed follows a good dispatch whose exchange could not be saved.
	StateCommitFailed    State = "commit_failed"
	StateEnd             State = "end"
)

// Config wires a Runner.
type Config struct {
	Ingestor   *ingest.Ingestor
	Store      session.Store
	Dispatcher *Dispatcher
	// Committer defaults to one writing to Store.
	Committer  *Committer
	Window     session.WindowPolicy
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// RunParams describes a single invocation.
type RunParams struct {
	Task     string
	Session  string
	Backend  backend.Backend
	ImageRef string
	Plan     string
	Stdin    io.Reader
	Sink     ChunkSink
	// OnState observes every transition, including the final End.
	OnState  func(State, RunResult)
}

// RunResult is what a run produced. State is where the run stopped; End
// only appears in Transitions. Response is set whenever the dispatch
// succeeded, even if the session could not be saved.
type RunResult struct {
	State         State
	Blob          ingest.Blob
	History       int
	Response      *backend.Response
	TranscriptLen int
	Saved         bool
	Transitions   []State
}

// Runner executes runs.
type Runner struct {
	ingestor   *ingest.Ingestor
	store      session.Store
	dispatcher *Dispatcher
	committer  *Committer
	window     session.WindowPolicy
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewRunner creates a new runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Committer == nil {
		cfg.Committer = NewCommitter(cfg.Store)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}

	return &Runner{
		ingestor:   cfg.Ingestor,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		committer:  cfg.Committer,
		window:     cfg.Window,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// run carries per-invocation bookkeeping.
type run struct {
	result RunResult
	span   trace.Span
	logger zerolog.Logger
	notify func(State, RunResult)
}

func (x *run) enter(s State) {
	if s != StateEnd {
		x.result.State = s
	}
	x.result.Transitions = append(x.result.Transitions, s)
	x.span.AddEvent("state", trace.WithAttributes(attribute.String("state", string(s))))
	x.logger.Debug().Str("state", string(s)).Msg("Run state changed")
	if x.notify != nil {
		x.notify(s, x.result)
	}
}

// Run executes one task. The session is read before dispatch and written
// only after a complete response.
func (r *Runner) Run(ctx context.Context, p RunParams) (RunResult, error) {
	if p.Backend == nil {
		return RunResult{}, fmt.Errorf("backend is required")
	}
	desc := p.Backend.Descriptor()

	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx, p.Session, desc.Name)
	}
	ctx, span := tracing.StartSpan(ctx, "ragent.agent", "run",
		attribute.String("session", p.Session),
		attribute.String("backend.name", desc.Name),
		attribute.String("backend.kind", desc.Kind),
	)
	defer span.End()

	x := &run{
		span:   span,
		logger: tracing.LoggerFromContext(ctx, r.logger),
		notify: p.OnState,
	}
	start := time.Now()
	defer func() {
		r.metrics.RunsTotal.WithLabelValues(desc.Kind, string(x.result.State)).Inc()
		r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	x.enter(StateStart)
	if strings.TrimSpace(p.Task) == "" {
		return x.fail(ErrEmptyTask)
	}
	if p.ImageRef != "" {
		if _, err := backend.LoadImage(p.ImageRef); err != nil {
			return x.fail(err)
		}
	}

	blob, err := r.ingest(ctx, p.Stdin)
	if err != nil {
		return x.fail(err)
	}
	x.result.Blob = blob
	r.metrics.ContextBytes.Set(float64(blob.Bytes))
	if blob.Truncated {
		r.metrics.ContextTruncatedTotal.Inc()
		x.logger.Warn().
			Int("kept_bytes", blob.Bytes).
			Int("max_bytes", r.ingestor.MaxBytes()).
			Msg("Piped context truncated")
	}
	x.enter(StateContextIngested)

	loaded, err := r.store.Load(ctx, p.Session)
	if err != nil {
		if !errors.Is(err, session.ErrCorruptSession) && !errors.Is(err, session.ErrInvalidName) {
			err = fmt.Errorf("%w: %w", session.ErrUnavailable, err)
		}
		return x.fail(fmt.Errorf("failed to load session %q: %w", p.Session, err))
	}
	x.enter(StateSessionLoaded)

	req, err := Build(BuildInput{
		Task:       p.Task,
		Blob:       blob,
		Transcript: loaded,
		ImageRef:   p.ImageRef,
		Window:     r.window,
		Descriptor: desc,
		Plan:       p.Plan,
	})
	if err != nil {
		return x.fail(err)
	}
	x.result.History = (len(req.Messages) - 1) / 2
	r.metrics.WindowExchanges.Set(float64(x.result.History))
	x.enter(StateRequestBuilt)

	x.enter(StateDispatching)
	resp, err := r.dispatcher.Dispatch(ctx, p.Backend, req, p.Sink)
	if err != nil {
		x.enter(StateDispatchFailed)
		return x.fail(err)
	}
	x.result.Response = resp

	model := resp.Model
	if model == "" {
		model = desc.Model
	}
	committed, err := r.committer.Commit(ctx, p.Session, loaded, session.Exchange{
		Task:             p.Task,
		ContextDigest:    blob.Digest,
		ContextBytes:     blob.Bytes,
		ContextTruncated: blob.Truncated,
		ImageRef:         p.ImageRef,
		Response:         resp.Content,
		Model:            model,
		Backend:          desc.Name,
	})
	if err != nil {
		x.result.TranscriptLen = loaded.Len()
		x.enter(StateCommitFailed)
		return x.fail(err)
	}
	x.result.TranscriptLen = committed.Len()
	x.result.Saved = p.Session != ""
	x.enter(StateCommitted)

	x.enter(StateEnd)
	span.SetAttributes(attribute.Int("transcript.len", x.result.TranscriptLen))
	return x.result, nil
}

func (r *Runner) ingest(ctx context.Context, stdin io.Reader) (ingest.Blob, error) {
	ctx, span := tracing.StartSpan(ctx, "ragent.agent", "ingest")
	defer span.End()

	blob, err := r.ingestor.Ingest(ctx, stdin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(ctx.Err(), context.Canceled) {
			return ingest.Blob{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return ingest.Blob{}, fmt.Errorf("failed to read piped context: %w", err)
	}
	span.SetAttributes(
		attribute.String("source", string(blob.Source)),
		attribute.Int("bytes", blob.Bytes),
		attribute.Bool("truncated", blob.Truncated),
	)
	return blob, nil
}

// fail ends the run with err.
func (x *run) fail(err error) (RunResult, error) {
	x.span.RecordError(err)
	x.span.SetStatus(codes.Error, err.Error())
	x.logger.Debug().Err(err).Str("state", string(x.result.State)).Msg("Run failed")
	x.enter(StateEnd)
	return x.result, err
}
