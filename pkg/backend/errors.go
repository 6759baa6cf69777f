package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid marks a descriptor that cannot produce a client.
	ErrConfigInvalid = errors.New("invalid backend configuration")
	// ErrUnsupportedCapability marks a request the backend cannot serve, such as an image.
	ErrUnsupportedCapability = errors.New("backend does not support this capability")
	// ErrInvalidImage marks an image reference that cannot be read or is not an image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrBackendUnavailable covers transport failures and error statuses.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout is returned when the dispatch deadline expires.
	ErrTimeout = errors.New("backend timed out")
	// ErrInvalidResponse is returned for empty or undecodable answers.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// classify wraps a client error with the matching sentinel. Cancellation by
// the caller is passed through untouched.
func classify(kind string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrInvalidImage):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, kind, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, kind, err)
	}
}

func invalidResponse(kind, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidResponse, kind, reason)
}
