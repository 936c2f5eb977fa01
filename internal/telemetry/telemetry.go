package telemetry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/matunokihanten/noda"

const exportTimeout = 5 * time.Second

// Options selects where spans go. An empty Endpoint disables export.
type Options struct {
	ServiceName string
	ShopName    string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// OptionsFromEnv reads the standard OTEL_* variables.
func OptionsFromEnv(serviceName, shopName string) Options {
	return Options{
		ServiceName: serviceName,
		ShopName:    shopName,
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		SampleRatio: parseRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG")),
	}
}

func parseRatio(raw string) float64 {
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}

// Setup installs the W3C propagator and, when an endpoint is configured,
// a batching OTLP/gRPC tracer provider. The returned func flushes pending
// spans; it is safe to call when export is disabled.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return noop, nil
	}

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithTimeout(exportTimeout),
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, clientOpts...)
	if err != nil {
		return noop, fmt.Errorf("otlp exporter %s: %w", opts.Endpoint, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(opts)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func serviceResource(opts Options) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceNamespace("waitlist"),
	}
	if opts.ShopName != "" {
		attrs = append(attrs, attribute.String("waitlist.shop", opts.ShopName))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Tracer returns the tracer for spans started outside HTTP handlers.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
