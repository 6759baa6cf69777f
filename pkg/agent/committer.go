package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/ragent/pkg/session"
)

// Committer appends a finished exchange to a transcript and persists it.
type Committer struct {
	store session.Store
	now   func() time.Time
	newID func() string
}

// NewCommitter returns a Committer writing to store.
func NewCommitter(store session.Store) *Committer {
	return &Committer{
		store: store,
		now:   time.Now,
		newID: newExchangeID,
	}
}

// Commit returns loaded with ex appended. For an unnamed run nothing is
// written. A failed write is reported as session.ErrPersistFailed and the
// stored transcript keeps its previous content.
func (c *Committer) Commit(ctx context.Context, name string, loaded session.Transcript, ex session.Exchange) (session.Transcript, error) {
	now := c.now().UTC()
	if ex.ID == "" {
		ex.ID = c.newID()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = now
	}

	next := loaded.Append(ex)
	next.Version = session.FormatVersion
	next.Name = name
	next.LastModelUsed = ex.Model
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	if name == "" {
		return next, nil
	}
	if err := c.store.Persist(ctx, name, next); err != nil {
		if !errors.Is(err, session.ErrPersistFailed) {
			err = fmt.Errorf("%w: %w", session.ErrPersistFailed, err)
		}
		return loaded, err
	}
	return next, nil
}

func newExchangeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
