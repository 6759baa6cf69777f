package session

import "errors"

var (
	// ErrCorruptSession is returned when a stored transcript cannot be decoded.
	ErrCorruptSession = errors.New("session record is corrupt")
	// ErrPersistFailed is returned when a transcript could not be written.
	ErrPersistFailed = errors.New("failed to persist session")
	// ErrInvalidName is returned for names that are not safe to store.
	ErrInvalidName = errors.New("invalid session name")
	// ErrNotFound is returned by Delete and Show for unknown sessions.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable is returned when the backing store cannot be opened or read.
	ErrUnavailable = errors.New("session store unavailable")
)
