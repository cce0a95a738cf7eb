package telemetry

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreExported(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("be-survey-approvals", "test", exp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "approval.approve", attribute.String("response_id", "r1"))
	_, child := StartSpan(ctx, "approval.tx")
	EndSpan(child, nil)
	EndSpan(span, stderrors.New("forbidden"))

	// the exporter drops what it holds on shutdown, so read after a flush
	require.NoError(t, provider.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	assert.Equal(t, codes.Error, byName["approval.approve"].Status.Code)
	assert.Equal(t, codes.Ok, byName["approval.tx"].Status.Code)
	assert.Equal(t, byName["approval.approve"].SpanContext.SpanID(), byName["approval.tx"].Parent.SpanID())
}
