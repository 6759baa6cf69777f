// Package backend turns a backend descriptor into a client for a model API.
//
// Invariants:
// - Resolve is deterministic: the same descriptor always yields the same
//   kind of client or the same error, and nothing is cached.
// - Clients make exactly one attempt per request; SDK-level retries are
//   disabled.
// - Every client error is classified as ErrTimeout, ErrBackendUnavailable or
//   ErrInvalidResponse. Caller cancellation is returned unwrapped.
//
// Usage:
//
//	r := backend.NewResolver()
//	b, err := r.Resolve(desc, imageRef != "")
//	resp, err := b.Send(ctx, req)
package backend
