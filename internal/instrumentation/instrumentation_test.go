package instrumentation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopInstrumentation(t *testing.T) {
	inst := NewNoop()
	require.NotNil(t, inst.Metrics())

	ctx := context.Background()
	inst.Metrics().RecordCodeExchange(ctx, "invalid_grant")
	inst.Metrics().RecordHTTPRequest(ctx, "/token", http.MethodPost, 400, time.Millisecond)

	w := httptest.NewRecorder()
	inst.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NoError(t, inst.Shutdown(ctx))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordClientRegistration(ctx)
		m.RecordAuthorizationIssued(ctx, "c")
		m.RecordCodeExchange(ctx, "")
		m.RecordPKCEValidationFailed(ctx)
		m.RecordInvalidPassword(ctx)
		m.RecordRateLimitExceeded(ctx, "token")
		m.RecordStorageOperation(ctx, "memory", "get_code", errors.New("x"))
		m.RecordPurged(ctx, "memory", 3)
		m.RecordHTTPRequest(ctx, "/", "GET", 200, time.Second)
	})
}

func TestPrometheusExposition(t *testing.T) {
	ctx := context.Background()
	inst, err := New(ctx, Config{ServiceName: "mcp-workers-test", Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(ctx) })

	inst.Metrics().RecordCodeExchange(ctx, "")
	inst.Metrics().RecordClientRegistration(ctx)

	srv := httptest.NewServer(inst.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "oauth_code_exchanges")
	assert.Contains(t, string(body), "oauth_client_registered")
}

func TestTracerRecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(ctx, Config{Tracing: TracingConfig{Processor: recorder}})
	require.NoError(t, err)
	defer inst.Shutdown(ctx)

	_, failed := inst.Tracer("oauth").Start(ctx, "exchange")
	RecordError(failed, errors.New("boom"))
	failed.End()

	_, ok := inst.Tracer("oauth").Start(ctx, "register")
	SetOK(ok)
	SetOK(nil)
	ok.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "exchange", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Equal(t, "register", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Equal(t, scopePrefix+"oauth", spans[1].InstrumentationScope().Name)
}

func TestTracingDisabledIsNoop(t *testing.T) {
	inst := NewNoop()
	_, span := inst.Tracer("oauth").Start(context.Background(), "exchange")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestTracingExportsOverOTLP(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/traces" {
			exports.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	ctx := context.Background()
	inst, err := New(ctx, Config{Tracing: TracingConfig{
		Enabled:  true,
		Endpoint: collector.URL + "/v1/traces",
	}})
	require.NoError(t, err)

	_, span := inst.Tracer("server").Start(ctx, "oauth.token")
	span.End()

	// shutdown flushes the batch
	require.NoError(t, inst.Shutdown(ctx))
	assert.Positive(t, exports.Load())
}
