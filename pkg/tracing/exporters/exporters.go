package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// NoopExporter drops every span. Used when no collector endpoint is configured.
type NoopExporter struct{}

func (NoopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (NoopExporter) Shutdown(context.Context) error { return nil }

type OTLPConfig struct {
	// Endpoint is the collector address, e.g. "localhost:4317" (grpc) or "localhost:4318" (http).
	Endpoint string
	// Protocol is "grpc" or "http".
	Protocol string
	Insecure bool
	Timeout  time.Duration
}

// New returns an OTLP exporter for config, or a NoopExporter when no endpoint is set.
func New(ctx context.Context, config OTLPConfig) (sdktrace.SpanExporter, error) {
	if config.Endpoint == "" {
		return NoopExporter{}, nil
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	switch config.Protocol {
	case "grpc", "":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s (use 'grpc' or 'http')", config.Protocol)
	}
}
