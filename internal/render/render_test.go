package render

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(opts Options) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	opts.Out = &out
	opts.Err = &errOut
	return New(context.Background(), opts), &out, &errOut
}

func TestWriteChunkIncremental(t *testing.T) {
	r, out, errOut := newTestRenderer(Options{OutTTY: true, WrapWidth: 5})
	r.SetIncremental(true)

	for _, chunk := range []string{"hello ", "streaming ", "world"} {
		require.NoError(t, r.WriteChunk(chunk))
	}
	require.NoError(t, r.Finish())

	assert.Equal(t, "hello streaming world\n", out.String(), "incremental output is never wrapped")
	assert.Empty(t, errOut.String())
}

func TestWriteChunkBufferedWraps(t *testing.T) {
	r, out, _ := newTestRenderer(Options{OutTTY: true, WrapWidth: 10})

	require.NoError(t, r.WriteChunk("\nthe quick brown fox jumps"))
	require.NoError(t, r.Finish())

	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 10, "line %q", line)
	}
	assert.Equal(t, "the quick brown fox jumps", strings.Join(strings.Fields(out.String()), " "))
}

func TestWriteChunkNoWrapWhenNotTerminal(t *testing.T) {
	r, out, _ := newTestRenderer(Options{OutTTY: false, WrapWidth: 10})

	require.NoError(t, r.WriteChunk("the quick brown fox jumps\n"))
	require.NoError(t, r.Finish())

	assert.Equal(t, "the quick brown fox jumps\n", out.String())
}

func TestFinish(t *testing.T) {
	r, out, _ := newTestRenderer(Options{})
	require.NoError(t, r.Finish())
	assert.Empty(t, out.String(), "nothing written, nothing to terminate")

	require.NoError(t, r.WriteChunk("done\n"))
	require.NoError(t, r.Finish())
	assert.Equal(t, "done\n", out.String())
}

func TestTypewriterPacing(t *testing.T) {
	r, out, _ := newTestRenderer(Options{TypewriterCPS: 200})

	start := time.Now()
	require.NoError(t, r.WriteChunk("héllo, wörld"))
	elapsed := time.Since(start)

	assert.Equal(t, "héllo, wörld", out.String())
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestTypewriterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	r := New(ctx, Options{Out: &out, TypewriterCPS: 1})
	cancel()

	err := r.WriteChunk("slow text")
	assert.Error(t, err)
	assert.Less(t, out.Len(), len("slow text"))
}

func TestHeader(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		r, out, errOut := newTestRenderer(Options{})
		r.Header(Header{
			Task:         "explain",
			Config:       "lmstudio/qwen3-8b",
			Image:        "shot.png",
			Session:      "notes",
			History:      3,
			ContextChars: 120,
			ContextBytes: 120,
		})

		got := errOut.String()
		assert.Empty(t, out.String(), "header never goes to stdout")
		assert.Contains(t, got, "Running agent...")
		assert.Contains(t, got, "Task: explain")
		assert.Contains(t, got, "Config: lmstudio/qwen3-8b")
		assert.Contains(t, got, "Image: shot.png")
		assert.Contains(t, got, "Session: notes (3 prior exchanges)")
		assert.Contains(t, got, "Context: 120 chars")
	})

	t.Run("empty", func(t *testing.T) {
		r, _, errOut := newTestRenderer(Options{})
		r.Header(Header{Task: "hi", Config: "c"})

		got := errOut.String()
		assert.Contains(t, got, "Image: None")
		assert.Contains(t, got, "Session: None")
		assert.Contains(t, got, "Context: None")
	})

	t.Run("new session with truncated context", func(t *testing.T) {
		r, _, errOut := newTestRenderer(Options{})
		r.Header(Header{Task: "hi", Config: "c", Session: "fresh", ContextChars: 90, ContextBytes: 100, Truncated: true})

		got := errOut.String()
		assert.Contains(t, got, "Session: fresh (new)")
		assert.Contains(t, got, "Context: 90 chars (truncated to 100 bytes)")
	})
}

func TestMessages(t *testing.T) {
	r, out, errOut := newTestRenderer(Options{})
	r.Warn("session was not saved")
	r.Error(errors.New("backend unavailable"))
	r.Plain("%d sessions", 2)

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Warning: session was not saved")
	assert.Contains(t, errOut.String(), "Error: backend unavailable")
	assert.Contains(t, errOut.String(), "2 sessions")
}

func TestToolCall(t *testing.T) {
	r, out, errOut := newTestRenderer(Options{})
	r.ToolCall("read_file", map[string]any{"path": "go.mod", "max_bytes": 10.0}, true)
	r.ToolCall("git_log", nil, false)

	assert.Empty(t, out.String())
	assert.Equal(t, "tool: read_file max_bytes=10 path=go.mod\ntool: git_log (failed)\n", errOut.String())
}

func TestBanner(t *testing.T) {
	r, _, _ := newTestRenderer(Options{})
	var w bytes.Buffer
	r.Banner(&w, 5, 2)

	assert.Contains(t, w.String(), "Total Configs: 5")
	assert.Contains(t, w.String(), "Total Sessions: 2")
}

func TestTable(t *testing.T) {
	r, _, _ := newTestRenderer(Options{})
	var w bytes.Buffer
	r.Table(&w, []string{"NAME", "EXCHANGES"}, [][]string{{"notes", "3"}, {"review", "12"}})

	lines := strings.Split(strings.TrimRight(w.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "notes")
	assert.Contains(t, lines[2], "12")
	assert.Equal(t, strings.Index(lines[0], "EXCHANGES"), strings.Index(lines[1], "3"), "columns line up")
}
