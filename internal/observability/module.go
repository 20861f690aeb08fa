package observability

import (
	"context"

	"github.com/subledger-io/subledger/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	config.Module,
	fx.Provide(NewLogger),
	fx.Invoke(setupTracing),
)

func NewLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// setupTracing installs a global OTLP tracer provider when an endpoint is
// configured. Without one the default no-op provider stays in place.
func setupTracing(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) error {
	if cfg.OTLPEndpoint == "" {
		return nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("subledger"),
	))
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Info("otlp tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
