package session

import (
	"fmt"
	"time"

	"pgregory.net/rapid"
)

var textGen = rapid.StringMatching(`[a-zA-Z0-9 .,:;!?"'<>&/\\\n\t-]{0,40}`)

func genExchange(i int, base time.Time) *rapid.Generator[Exchange] {
	return rapid.Custom(func(t *rapid.T) Exchange {
		return Exchange{
			ID:               fmt.Sprintf("ex-%d", i),
			Task:             textGen.Draw(t, "task"),
			ContextDigest:    rapid.SampledFrom([]string{"", "sha256:abc123"}).Draw(t, "digest"),
			ContextBytes:     rapid.IntRange(0, 1<<16).Draw(t, "context_bytes"),
			ContextTruncated: rapid.Bool().Draw(t, "truncated"),
			ImageRef:         rapid.SampledFrom([]string{"", "shot.png", "https://example.com/a.jpg"}).Draw(t, "image"),
			Response:         textGen.Draw(t, "response"),
			Model:            rapid.SampledFrom([]string{"qwen/qwen3-8b", "gpt-4o-mini"}).Draw(t, "model"),
			Backend:          "lmstudio_qwen",
			Timestamp:        base.Add(time.Duration(i) * time.Second),
		}
	})
}

func genTranscript(name string) *rapid.Generator[Transcript] {
	return rapid.Custom(func(t *rapid.T) Transcript {
		sec := rapid.Int64Range(0, 4102444800).Draw(t, "sec")
		nsec := rapid.Int64Range(0, 999999999).Draw(t, "nsec")
		base := time.Unix(sec, nsec).UTC()

		tr := NewTranscript(name)
		n := rapid.IntRange(0, 5).Draw(t, "exchanges")
		for i := 0; i < n; i++ {
			tr = tr.Append(genExchange(i, base).Draw(t, fmt.Sprintf("exchange_%d", i)))
		}
		if n > 0 {
			tr.LastModelUsed = tr.Exchanges[n-1].Model
			tr.CreatedAt = base
			tr.UpdatedAt = tr.Exchanges[n-1].Timestamp
		}
		return tr
	})
}

var nameGen = rapid.StringMatching(`[a-zA-Z0-9_-][a-zA-Z0-9_.-]{0,30}`).Filter(func(s string) bool {
	return ValidateName(s) == nil
})

func sampleTranscript(name string, n int) Transcript {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTranscript(name)
	for i := 0; i < n; i++ {
		tr = tr.Append(Exchange{
			ID:        fmt.Sprintf("ex-%d", i),
			Task:      fmt.Sprintf("task %d", i),
			Response:  fmt.Sprintf("response %d", i),
			Model:     "qwen/qwen3-8b",
			Backend:   "lmstudio_qwen",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	if n > 0 {
		tr.LastModelUsed = "qwen/qwen3-8b"
		tr.CreatedAt = base
		tr.UpdatedAt = base.Add(time.Duration(n-1) * time.Minute)
	}
	return tr
}
