package session

import (
	"time"
)

// FormatVersion is the current on-disk transcript format.
const FormatVersion = 1

// Exchange is one completed task/response pair. Only a digest and the
// length of the piped context are kept, never the context itself.
type Exchange struct {
	ID               string    `json:"id"`
	Task             string    `json:"task"`
	ContextDigest    string    `json:"context_digest,omitempty"`
	ContextBytes     int       `json:"context_bytes"`
	ContextTruncated bool      `json:"context_truncated"`
	ImageRef         string    `json:"image_ref,omitempty"`
	Response         string    `json:"response"`
	Model            string    `json:"model"`
	Backend          string    `json:"backend"`
	Timestamp        time.Time `json:"timestamp"`
}

// Transcript is the durable history of a named session.
type Transcript struct {
	Version       int        `json:"version"`
	Name          string     `json:"name"`
	LastModelUsed string     `json:"last_model_used"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Exchanges     []Exchange `json:"exchanges"`
}

// NewTranscript returns an empty transcript for name.
func NewTranscript(name string) Transcript {
	return Transcript{
		Version:   FormatVersion,
		Name:      name,
		Exchanges: []Exchange{},
	}
}

// Append returns a copy of t with ex added at the end. t is not modified.
func (t Transcript) Append(ex Exchange) Transcript {
	exchanges := make([]Exchange, len(t.Exchanges), len(t.Exchanges)+1)
	copy(exchanges, t.Exchanges)
	t.Exchanges = append(exchanges, ex)
	return t
}

// Len returns the number of exchanges.
func (t Transcript) Len() int {
	return len(t.Exchanges)
}

// IsEmpty reports whether the transcript has no exchanges.
func (t Transcript) IsEmpty() bool {
	return len(t.Exchanges) == 0
}

// Info summarizes a stored session for listings.
type Info struct {
	Name          string
	Exchanges     int
	LastModelUsed string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SizeBytes     int64
	Corrupt       bool
	Err           error
}

func infoFor(t Transcript, size int64) Info {
	return Info{
		Name:          t.Name,
		Exchanges:     t.Len(),
		LastModelUsed: t.LastModelUsed,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		SizeBytes:     size,
	}
}
