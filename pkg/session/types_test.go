package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendDoesNotMutate(t *testing.T) {
	loaded := sampleTranscript("proj", 2)
	// Spare capacity must not leak the new exchange into the original.
	loaded.Exchanges = append(make([]Exchange, 0, 8), loaded.Exchanges...)

	next := loaded.Append(Exchange{Task: "third", Response: "ok"})

	assert.Equal(t, 2, loaded.Len())
	require.Equal(t, 3, next.Len())
	assert.Equal(t, "third", next.Exchanges[2].Task)
	assert.Equal(t, loaded.Exchanges, next.Exchanges[:2])

	next.Exchanges[0].Task = "changed"
	assert.Equal(t, "task 0", loaded.Exchanges[0].Task)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "test-session", false},
		{"dots inside", "v1.2", false},
		{"colon", "proj:main", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"double dot", "a..b", true},
		{"single dot", ".", true},
		{"leading dot", ".notes", true},
		{"trailing dot", "notes.", false},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
		{"too long", string(make([]byte, 129)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.key)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
