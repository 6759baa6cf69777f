package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store loads and persists transcripts by session name.
type Store interface {
	// Load returns the transcript for name. A missing record yields an empty
	// transcript; an empty name yields an empty, unnamed transcript.
	Load(ctx context.Context, name string) (Transcript, error)
	// Persist atomically replaces the record for name. No-op for an empty name.
	Persist(ctx context.Context, name string, t Transcript) error
	// List summarizes every stored session, sorted by name.
	List(ctx context.Context) ([]Info, error)
	// Delete removes the record for name, or returns ErrNotFound.
	Delete(ctx context.Context, name string) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Options selects and configures a Store implementation.
type Options struct {
	Driver     string
	Dir        string // file driver
	SQLitePath string // sqlite driver
	Redis      RedisOptions
	Logger     zerolog.Logger
}

// Open builds the Store selected by opts.Driver, wrapped with tracing,
// metrics and logging.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", DriverFile:
		opts.Driver = DriverFile
		s, err = NewFileStore(opts.Dir)
	case DriverSQLite:
		s, err = NewSQLiteStore(ctx, opts.SQLitePath)
	case DriverRedis:
		s, err = DialRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown session store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Instrument(s, opts.Driver, opts.Logger), nil
}

// Show loads an existing session, returning ErrNotFound when no record exists.
func Show(ctx context.Context, s Store, name string) (Transcript, error) {
	if err := ValidateName(name); err != nil {
		return Transcript{}, err
	}
	infos, err := s.List(ctx)
	if err != nil {
		return Transcript{}, err
	}
	for _, info := range infos {
		if info.Name == name {
			return s.Load(ctx, name)
		}
	}
	return Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Prune deletes every session of s last updated before cutoff and returns
// their names. Corrupt sessions are left alone.
func Prune(ctx context.Context, s Store, cutoff time.Time) ([]string, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range ExpiredBefore(infos, cutoff) {
		if err := s.Delete(ctx, name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// ExpiredBefore returns the names of sessions last updated before cutoff.
// Corrupt sessions are never reported.
func ExpiredBefore(infos []Info, cutoff time.Time) []string {
	var names []string
	for _, info := range infos {
		if info.Corrupt {
			continue
		}
		if info.UpdatedAt.Before(cutoff) {
			names = append(names, info.Name)
		}
	}
	return names
}

// Discard is a Store that keeps nothing. Runs without a session name use it
// so that no backing store has to be reachable.
var Discard Store = discardStore{}

type discardStore struct{}

func (discardStore) Load(_ context.Context, name string) (Transcript, error) {
	return NewTranscript(name), nil
}

func (discardStore) Persist(context.Context, string, Transcript) error { return nil }
func (discardStore) List(context.Context) ([]Info, error)              { return nil, nil }
func (discardStore) Close() error                                      { return nil }

func (discardStore) Delete(_ context.Context, name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}
