package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupTelemetryServesMetrics(t *testing.T) {
	shutdown, handler, err := setupTelemetry(config.Default(), newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()
	if handler == nil {
		t.Fatal("expected a prometheus handler")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1:   sdktrace.AlwaysSample().Description(),
		0:   sdktrace.NeverSample().Description(),
		0.5: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5)).Description(),
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); got != want {
			t.Errorf("sampler(%v) = %s, want %s", ratio, got, want)
		}
	}
}
