package cli

import (
	"context"
	"errors"

	"github.com/harun/ragent/internal/config"
	"github.com/harun/ragent/pkg/agent"
	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/session"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitSession     = 3
	ExitBackend     = 4
	ExitInterrupted = 130
)

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, agent.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, backend.ErrConfigInvalid),
		errors.Is(err, backend.ErrUnsupportedCapability),
		errors.Is(err, backend.ErrInvalidImage):
		return ExitConfig
	case errors.Is(err, session.ErrCorruptSession),
		errors.Is(err, session.ErrPersistFailed),
		errors.Is(err, session.ErrInvalidName),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrUnavailable):
		return ExitSession
	case errors.Is(err, backend.ErrBackendUnavailable),
		errors.Is(err, backend.ErrTimeout),
		errors.Is(err, backend.ErrInvalidResponse):
		return ExitBackend
	default:
		return ExitFailure
	}
}
