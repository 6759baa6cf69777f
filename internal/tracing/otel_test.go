package tracing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitExportsSpansToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(context.Background(), Options{ServiceName: "ragent-test", Writer: &buf}))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "ragent/test", "dispatch")
	span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Contains(t, buf.String(), `"Name":"dispatch"`)
}

func TestInitWithTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "ragent.jsonl")
	require.NoError(t, Init(context.Background(), Options{TraceFile: path}))

	_, span := StartSpan(context.Background(), "ragent/test", "ingest")
	span.End()
	require.NoError(t, Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ingest")
}

func TestShutdownWithoutInit(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))
	require.NoError(t, Shutdown(context.Background()))
}
