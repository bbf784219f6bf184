package otel

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/store/archive/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrumentedArchiveStore(t *testing.T) {
	ctx := context.Background()
	backend, err := local.New(t.TempDir())
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	s, err := New(backend,
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
		WithMetrics(false),
	)
	require.NoError(t, err)

	uri, err := s.Upload(ctx, "db.zip", "application/zip", strings.NewReader("0123456789"))
	require.NoError(t, err)

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)

	// Local archives are files; the wrapper keeps random access.
	f, ok := r.(interface {
		io.ReaderAt
	})
	require.True(t, ok)
	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf))
	require.Len(t, spans.Ended(), 1)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	err = s.Delete(ctx, "file:///nowhere/x.zip")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "docxfer.archive.upload", ended[0].Name())
	assert.Equal(t, "docxfer.archive.load", ended[1].Name())
	assert.Equal(t, "docxfer.archive.delete", ended[2].Name())
	assert.Equal(t, codes.Error, ended[2].Status().Code)

	var loaded int64
	for _, kv := range ended[1].Attributes() {
		if kv.Key == "archive.bytes" {
			loaded = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(4), loaded)
}
