package session

import (
	"context"
	"time"

	"github.com/harun/ragent/internal/metrics"
	"github.com/harun/ragent/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "ragent.session"

// Instrument wraps s so every load and persist is traced, timed and logged.
func Instrument(s Store, driver string, logger zerolog.Logger) Store {
	return &instrumentedStore{
		Store:   s,
		driver:  driver,
		logger:  logger.With().Str("component", "session").Str("store", driver).Logger(),
		metrics: metrics.Default(),
	}
}

type instrumentedStore struct {
	Store
	driver  string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Unwrap returns the underlying store.
func (s *instrumentedStore) Unwrap() Store {
	return s.Store
}

func (s *instrumentedStore) Load(ctx context.Context, name string) (Transcript, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load",
		attribute.String("session", name),
		attribute.String("store", s.driver),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	t, err := s.Store.Load(ctx, name)
	s.metrics.SessionLoadDuration.WithLabelValues(s.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("session", name).Msg("Failed to load session")
		return t, err
	}

	span.SetAttributes(attribute.Int("exchanges", t.Len()))
	logger.Debug().Str("session", name).Int("exchanges", t.Len()).Msg("Session loaded")
	return t, nil
}

func (s *instrumentedStore) Persist(ctx context.Context, name string, t Transcript) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.persist",
		attribute.String("session", name),
		attribute.String("store", s.driver),
		attribute.Int("exchanges", t.Len()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	err := s.Store.Persist(ctx, name, t)
	s.metrics.SessionPersistDuration.WithLabelValues(s.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SessionPersistErrorsTotal.WithLabelValues(s.driver).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("session", name).Msg("Failed to persist session")
		return err
	}

	logger.Debug().Str("session", name).Int("exchanges", t.Len()).Msg("Session persisted")
	return nil
}
