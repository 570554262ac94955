package traces

import (
	"context"
	"testing"

	"github.com/mbd888/bankguard/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "alerts.Create",
		AlertID("alr_1"), TransactionID("tx1"), AccountID("acc1"), ScanID("scn_1"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "alerts.Create", ended[0].Name())

	got := map[attribute.Key]string{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "alr_1", got["alert.id"])
	assert.Equal(t, "tx1", got["transaction.id"])
	assert.Equal(t, "acc1", got["account.id"])
	assert.Equal(t, "scn_1", got["scan.id"])
}
