// Package session persists conversation transcripts between ragent runs.
//
// Invariants:
// - Session names are validated and path-safe before any store access.
// - An empty name means "no session": Load returns an empty transcript and
//   Persist does nothing.
// - Load never writes. A record that cannot be decoded is reported as
//   ErrCorruptSession and left in place.
// - Persist replaces the whole record atomically (rename, single upsert or
//   single SET), so a reader sees either the old or the new transcript.
// - Exchanges are append-only and kept in chronological order.
//
// Usage:
//
//	store, _ := session.NewFileStore("/home/me/.config/ragent/sessions")
//	t, _ := store.Load(ctx, "proj")
//	t = t.Append(session.Exchange{Task: "explain", Response: "..."})
//	_ = store.Persist(ctx, "proj", t)
package session
