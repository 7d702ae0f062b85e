package tracing

import (
	"context"
	"errors"
	"smartlocate/pkg/apperr"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func newTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	return recorder, tp
}

func TestSpanEndWithAppError(t *testing.T) {
	recorder, tp := newTracer(t)

	_, step := StartSpan(context.Background(), tp.Tracer("test"), zaptest.NewLogger(t), "Locate",
		attribute.String("selector", "#login"))
	step.AddEvent("waiting for classification")
	step.End(apperr.WrapErrorWithReason("match", apperr.CodeNoMatchFound, "no_candidates"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "Locate", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("error.code", apperr.CodeNoMatchFound))
	assert.Contains(t, span.Attributes(), attribute.String("selector", "#login"))
	require.Len(t, span.Events(), 2)
	assert.Equal(t, "waiting for classification", span.Events()[0].Name)
}

func TestSpanEndPlainErrorAndSuccess(t *testing.T) {
	recorder, tp := newTracer(t)
	logger := zaptest.NewLogger(t)

	_, failed := StartSpan(context.Background(), tp.Tracer("test"), logger, "Upload")
	failed.End(errors.New("connection reset"))

	_, ok := StartSpan(context.Background(), tp.Tracer("test"), logger, "CheckIn")
	ok.SetAttributes(attribute.Int("status", 200))
	ok.End(nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	for _, attr := range spans[0].Attributes() {
		assert.NotEqual(t, attribute.Key("error.code"), attr.Key)
	}

	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.Int("status", 200))
}
