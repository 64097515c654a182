package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// mwHarness bundles what every middleware test needs: a Metrics fed by a
// manual reader, and a global tracer provider backed by an in-memory span
// exporter. Both are torn down with the test.
type mwHarness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newMWHarness(t *testing.T) *mwHarness {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return &mwHarness{metrics: m, reader: reader, spans: exp}
}

// serve pushes one request through the middleware-wrapped handler.
func (h *mwHarness) serve(t *testing.T, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(h.metrics)(handler).ServeHTTP(rec, req)
	return rec
}

// onlySpan asserts exactly one span was exported and returns it.
func (h *mwHarness) onlySpan(t *testing.T) tracetest.SpanStub {
	t.Helper()
	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	return spans[0]
}

func okBody(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func TestMiddleware_GeneratesCorrelationID(t *testing.T) {
	h := newMWHarness(t)

	var inHandler string
	rec := h.serve(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		okBody(w, r)
	}, httptest.NewRequest("GET", "/test", nil))

	if len(inHandler) != 32 {
		t.Errorf("handler saw correlation ID %q, want 32 hex chars", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID header = %q, handler saw %q", got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h := newMWHarness(t)

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/propagate", nil)
	req.Header.Set("traceparent", "00-"+wantTrace+"-00f067aa0ba902b7-01")

	var inHandler string
	rec := h.serve(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		okBody(w, r)
	}, req)

	if inHandler != wantTrace {
		t.Errorf("correlation ID in handler = %q, want the caller's trace id %q", inHandler, wantTrace)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != wantTrace {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, wantTrace)
	}
}

func TestMiddleware_NamesSpanAfterRoute(t *testing.T) {
	h := newMWHarness(t)

	h.serve(t, okBody, httptest.NewRequest("GET", "/span-test", nil))

	if span := h.onlySpan(t); span.Name != "HTTP GET /span-test" {
		t.Errorf("span name = %q, want %q", span.Name, "HTTP GET /span-test")
	}
}

func TestMiddleware_RecordsDurationWithRouteAttrs(t *testing.T) {
	h := newMWHarness(t)

	h.serve(t, okBody, httptest.NewRequest("GET", "/metrics-test", nil))

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "ghostwriter.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := attribute.NewSet(
		attribute.String("method", "GET"),
		attribute.String("path", "/metrics-test"),
	)
	if !dp.Attributes.Equals(&want) {
		t.Errorf("data point attributes = %v, want %v", dp.Attributes.ToSlice(), want.ToSlice())
	}
}

func TestMiddleware_StatusCodeOnSpan(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    int64
	}{
		{
			name:    "explicit WriteHeader",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    404,
		},
		{
			name:    "implicit 200 via Write",
			handler: okBody,
			want:    200,
		},
		{
			name: "first WriteHeader wins",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: 404,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newMWHarness(t)
			h.serve(t, tc.handler, httptest.NewRequest("GET", "/status", nil))

			var got int64 = -1
			for _, a := range h.onlySpan(t).Attributes {
				if string(a.Key) == "http.response.status_code" {
					got = a.Value.AsInt64()
				}
			}
			if got != tc.want {
				t.Errorf("http.response.status_code = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMiddleware_ServerErrorMarksSpanFailed(t *testing.T) {
	h := newMWHarness(t)

	h.serve(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, httptest.NewRequest("GET", "/broken", nil))

	if got := h.onlySpan(t).Status.Code; got != codes.Error {
		t.Errorf("span status = %v, want %v", got, codes.Error)
	}
}

func TestMiddleware_ClientErrorLeavesSpanUnset(t *testing.T) {
	h := newMWHarness(t)

	h.serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest("GET", "/missing", nil))

	if got := h.onlySpan(t).Status.Code; got == codes.Error {
		t.Error("a 404 must not mark the span failed")
	}
}

func TestMiddleware_WriterSupportsUnwrap(t *testing.T) {
	h := newMWHarness(t)

	// The WebSocket upgrade reaches the underlying connection through
	// http.ResponseController, which walks Unwrap on wrapping writers.
	var unwrapped http.ResponseWriter
	rec := h.serve(t, func(w http.ResponseWriter, _ *http.Request) {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			t.Error("wrapped writer does not implement Unwrap")
			return
		}
		unwrapped = u.Unwrap()
	}, httptest.NewRequest("GET", "/live", nil))

	if unwrapped != rec {
		t.Error("Unwrap did not return the original response writer")
	}
}

func TestResponseTap_CountsBodyBytes(t *testing.T) {
	tap := &responseTap{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, err := tap.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := tap.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if tap.bytes != 11 {
		t.Errorf("bytes = %d, want 11", tap.bytes)
	}
	if tap.status != http.StatusOK {
		t.Errorf("status = %d, want %d", tap.status, http.StatusOK)
	}
}
