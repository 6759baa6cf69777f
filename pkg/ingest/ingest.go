// Package ingest reads optional piped context from standard input.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/term"
)

// DefaultMaxBytes caps the retained context at 64 KiB.
const DefaultMaxBytes = 64 * 1024

const chunkSize = 32 * 1024

// Source tells where a blob came from.
type Source string

const (
	SourceNone  Source = "none"
	SourceStdin Source = "stdin"
)

// Blob is the retained piped context for one run.
type Blob struct {
	Text      string
	Bytes     int
	Chars     int
	Truncated bool
	Source    Source
	Digest    string
}

// Empty reports whether the blob carries no usable context.
func (b Blob) Empty() bool {
	return b.Bytes == 0
}

// TerminalFunc reports whether fd is an interactive terminal.
type TerminalFunc func(fd uintptr) bool

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithTerminalFunc overrides terminal detection.
func WithTerminalFunc(fn TerminalFunc) Option {
	return func(i *Ingestor) {
		i.isTerminal = fn
	}
}

// Ingestor reads at most maxBytes of piped input.
type Ingestor struct {
	maxBytes   int
	isTerminal TerminalFunc
}

// New returns an Ingestor. A non-positive maxBytes selects DefaultMaxBytes.
func New(maxBytes int, opts ...Option) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	i := &Ingestor{
		maxBytes:   maxBytes,
		isTerminal: term.IsTerminal,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MaxBytes returns the retention cap.
func (i *Ingestor) MaxBytes() int {
	return i.maxBytes
}

// Ingest returns SourceNone without reading when r is an interactive
// terminal. Otherwise it reads until EOF or until one byte past the cap,
// so an endless producer is never drained.
func (i *Ingestor) Ingest(ctx context.Context, r io.Reader) (Blob, error) {
	if r == nil {
		return Blob{Source: SourceNone}, nil
	}
	if f, ok := r.(*os.File); ok && i.isTerminal(f.Fd()) {
		return Blob{Source: SourceNone}, nil
	}

	data, err := i.readBounded(ctx, r)
	if err != nil {
		return Blob{}, err
	}

	truncated := len(data) > i.maxBytes
	if truncated {
		data = data[:i.maxBytes]
	}

	if strings.TrimSpace(string(data)) == "" {
		return Blob{Source: SourceStdin}, nil
	}

	text := trimPartialRune(data)
	sum := sha256.Sum256(data)

	return Blob{
		Text:      text,
		Bytes:     len(data),
		Chars:     utf8.RuneCountInString(text),
		Truncated: truncated,
		Source:    SourceStdin,
		Digest:    "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

func (i *Ingestor) readBounded(ctx context.Context, r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, int64(i.maxBytes)+1)
	buf := make([]byte, 0, min(i.maxBytes+1, chunkSize))
	chunk := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := limited.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read context from stdin: %w", err)
		}
	}
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end of data
// by the byte cap.
func trimPartialRune(data []byte) string {
	end := len(data)
	for back := 1; back < utf8.UTFMax && back <= end; back++ {
		start := end - back
		if !utf8.RuneStart(data[start]) {
			continue
		}
		if !utf8.FullRune(data[start:end]) {
			return string(data[:start])
		}
		break
	}
	return string(data)
}
