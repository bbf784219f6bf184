package otel

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newTelemetry() (*telemetry, []Option) {
	tel := &telemetry{
		spans:  tracetest.NewSpanRecorder(),
		reader: sdkmetric.NewManualReader(),
	}
	opts := []Option{
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tel.spans))),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(tel.reader))),
	}
	return tel, opts
}

// sum adds up every data point of an int64 counter.
func (tel *telemetry) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func (tel *telemetry) spanNames() []string {
	var names []string
	for _, s := range tel.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestInstrumentedDatabase(t *testing.T) {
	ctx := context.Background()
	tel, opts := newTelemetry()

	inst, err := New(memory.New(), opts...)
	require.NoError(t, err)
	require.NoError(t, inst.Connect(ctx))

	db, err := inst.Database(ctx, "users", true)
	require.NoError(t, err)
	assert.Equal(t, "users", db.Name())

	body := `{"_id":"a","_rev":"1-aa"}`
	require.NoError(t, db.Write(ctx, "a", strings.NewReader(body), int64(len(body)), store.WriteOptions{NoNewRevisions: true}))

	doc, err := db.Get(ctx, "a", "")
	require.NoError(t, err)
	// The get span is still open until the body is closed.
	assert.NotContains(t, tel.spanNames(), "docxfer.store.get")
	data, err := io.ReadAll(doc.Body)
	require.NoError(t, err)
	require.NoError(t, doc.Body.Close())
	assert.Equal(t, body, string(data))

	_, err = db.Get(ctx, "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, []string{
		"docxfer.store.connect",
		"docxfer.store.database",
		"docxfer.store.write",
		"docxfer.store.get",
		"docxfer.store.get",
	}, tel.spanNames())

	last := tel.spans.Ended()[4]
	assert.Equal(t, codes.Error, last.Status().Code)

	assert.Equal(t, int64(5), tel.sum(t, "docxfer.store.count"))
	assert.Equal(t, int64(1), tel.sum(t, "docxfer.store.errors"))
	assert.Equal(t, int64(2*len(body)), tel.sum(t, "docxfer.store.bytes"))
}

func TestMissingHistoryIsNotAnError(t *testing.T) {
	ctx := context.Background()
	tel, opts := newTelemetry()

	backend := memory.New()
	require.NoError(t, backend.Connect(ctx))
	raw, err := backend.Database(ctx, "db", true)
	require.NoError(t, err)

	db, err := WrapDatabase(raw, opts...)
	require.NoError(t, err)

	_, err = db.RevisionHistory(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, tel.sum(t, "docxfer.store.errors"))
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	inst, err := New(memory.New(), WithTracing(false), WithMetrics(false))
	require.NoError(t, err)
	require.NoError(t, inst.Connect(ctx))

	db, err := inst.Database(ctx, "db", true)
	require.NoError(t, err)
	require.NoError(t, db.WriteBulk(ctx, strings.NewReader(`[{"_id":"a","_rev":"1-a"}]`)))

	names, err := inst.Databases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, names)
}
