package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartAndEndRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := Start(context.Background(), "refund.initiate", "request_id", "REQ-1", "dangling")
	End(span, errors.New("gateway down"))

	spans := rec.Ended()
	if assert.Len(t, spans, 1) {
		s := spans[0]
		assert.Equal(t, "refund.initiate", s.Name())
		assert.Equal(t, codes.Error, s.Status().Code)
		assert.Len(t, s.Attributes(), 1)
		assert.Equal(t, "REQ-1", s.Attributes()[0].Value.AsString())
	}
}

func TestCounterWithoutProvider(t *testing.T) {
	c := Counter("test_total", "noop")
	assert.NotNil(t, c)
	c.Add(context.Background(), 1)
}
