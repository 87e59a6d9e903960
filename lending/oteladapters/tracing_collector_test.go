package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/memstore"
	"github.com/AntonStoeckl/library-lending-go/lending/oteladapters"
	. "github.com/AntonStoeckl/library-lending-go/testutil/lendingtest" //nolint:revive
)

func givenTracingCollector() (*oteladapters.TracingCollector, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), exporter
}

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	collector, exporter := givenTracingCollector()

	_, spanCtx := collector.StartSpan(context.Background(), "lending.borrow", map[string]string{"book_id": "b-1"})
	spanCtx.AddAttribute("member_id", "m-1")
	collector.FinishSpan(spanCtx, lending.StatusSuccess, map[string]string{"duration_ms": "1.500"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "lending.borrow", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	attrs := spanAttributes(spans[0])
	assert.Equal(t, "b-1", attrs["book_id"])
	assert.Equal(t, "m-1", attrs["member_id"])
	assert.Equal(t, "1.500", attrs["duration_ms"])
}

func Test_TracingCollector_MapsStatuses(t *testing.T) {
	testCases := []struct {
		status   string
		expected codes.Code
	}{
		{lending.StatusSuccess, codes.Ok},
		{lending.StatusError, codes.Error},
		{lending.StatusTimeout, codes.Error},
		{lending.StatusCanceled, codes.Error},
		{lending.StatusUnavailable, codes.Error},
		{lending.StatusInvariant, codes.Error},
		{lending.StatusConflict, codes.Unset},
		{lending.StatusRejected, codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			collector, exporter := givenTracingCollector()

			_, spanCtx := collector.StartSpan(context.Background(), "op", nil)
			collector.FinishSpan(spanCtx, tc.status, nil)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tc.expected, spans[0].Status.Code)

			if tc.expected == codes.Unset {
				assert.Equal(t, tc.status, spanAttributes(spans[0])["status"])
			}
		})
	}
}

func Test_TracingCollector_IgnoresForeignSpanContexts(t *testing.T) {
	collector, exporter := givenTracingCollector()

	assert.NotPanics(t, func() {
		collector.FinishSpan(&SpySpanContext{}, lending.StatusSuccess, nil)
	})
	assert.Empty(t, exporter.GetSpans())
}

func Test_TracingCollector_WiredIntoEngine(t *testing.T) {
	ctx := context.Background()
	collector, exporter := givenTracingCollector()
	store := memstore.NewStore()
	book, err := store.AddBook(ctx, FixtureBook(t, 1))
	require.NoError(t, err, "error in arranging test data")
	member, err := store.AddMember(ctx, FixtureMember(t, true))
	require.NoError(t, err, "error in arranging test data")

	engine, err := lending.NewEngine(store, store, store, lending.WithTracing(collector))
	require.NoError(t, err)

	record, err := engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, book.ID, member.ID, 0)
	require.ErrorIs(t, err, lending.ErrBookUnavailable)
	_, err = engine.Return(ctx, record.ID)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "lending.borrow", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, "lending.borrow", spans[1].Name)
	assert.Equal(t, lending.StatusConflict, spanAttributes(spans[1])["status"])
	assert.Equal(t, "lending.return", spans[2].Name)
}

func spanAttributes(span tracetest.SpanStub) map[string]string {
	attrs := make(map[string]string)
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}

	return attrs
}
