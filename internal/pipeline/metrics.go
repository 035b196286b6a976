package pipeline

import (
	"context"

	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-interpreter/internal/pipeline"

type instruments struct {
	tracer        trace.Tracer
	cycles        metric.Int64Counter
	cacheLookups  metric.Int64Counter
	stageDuration metric.Float64Histogram
	captureErrors metric.Int64Counter
}

func newInstruments(g *gate.Gate) (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	cycles, err := meter.Int64Counter("interpreter.cycles",
		metric.WithDescription("Interpretation cycles by outcome"))
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("interpreter.cache.lookups",
		metric.WithDescription("Speech cache lookups by result"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("interpreter.stage.duration",
		metric.WithDescription("Stage latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	captureErrors, err := meter.Int64Counter("interpreter.capture.errors",
		metric.WithDescription("Failed microphone captures"))
	if err != nil {
		return nil, err
	}
	_, err = meter.Int64ObservableGauge("interpreter.gate.open",
		metric.WithDescription("1 while the microphone gate is open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if g.IsOpen() {
				v = 1
			}
			o.Observe(v)
			return nil
		}))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer:        otel.Tracer(instrumentationName),
		cycles:        cycles,
		cacheLookups:  cacheLookups,
		stageDuration: stageDuration,
		captureErrors: captureErrors,
	}, nil
}

func (i *instruments) recordStage(ctx context.Context, stage string, seconds float64, status Status) {
	i.stageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status.String()),
	))
}

func (i *instruments) recordCycle(ctx context.Context, outcome string) {
	i.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *instruments) recordCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
