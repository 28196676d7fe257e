// Package tracing exports inspection job spans over OTLP/HTTP.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// Attribute keys shared by job and API spans
const (
	KeyJobID       = attribute.Key("sdd.job.id")
	KeyJobDate     = attribute.Key("sdd.job.date")
	KeyGroups      = attribute.Key("sdd.job.groups")
	KeyGroup       = attribute.Key("sdd.group")
	KeyGPU         = attribute.Key("sdd.gpu")
	KeyPID         = attribute.Key("sdd.worker.pid")
	KeyImages      = attribute.Key("sdd.result.images")
	KeyDefects     = attribute.Key("sdd.result.defects")
	KeyQuarantined = attribute.Key("sdd.result.quarantined")
)

// Config holds the tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of an OTLP HTTP collector, e.g. "localhost:4318"
	Enabled        bool
}

// DefaultConfig returns a disabled tracing config for the inspector
func DefaultConfig() Config {
	return Config{
		ServiceName:  "sdd-inspector",
		Environment:  "production",
		OTLPEndpoint: "localhost:4318",
	}
}

// Provider owns the span pipeline. The zero and nil values drop every span.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

var defaultPropagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// Noop returns a provider whose spans are discarded
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(""), prop: defaultPropagator}
}

// InitTracer builds an exporting provider, or Noop when tracing is disabled
func InitTracer(cfg Config, logger *logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return Noop(), nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to describe service: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(defaultPropagator)

	logger.Info("Exporting job traces", map[string]interface{}{
		"service":  cfg.ServiceName,
		"endpoint": cfg.OTLPEndpoint,
	})
	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), prop: defaultPropagator}, nil
}

// Shutdown flushes buffered spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the underlying tracer
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

func (p *Provider) propagator() propagation.TextMapPropagator {
	if p == nil || p.prop == nil {
		return defaultPropagator
	}
	return p.prop
}

// StartSpan starts a span carrying attrs
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartJob opens the root span of one inspection job
func (p *Provider) StartJob(ctx context.Context, jobID, date string, groups int) (context.Context, trace.Span) {
	return p.StartSpan(ctx, "sdd.job",
		KeyJobID.String(jobID),
		KeyJobDate.String(date),
		KeyGroups.Int(groups),
	)
}

// GroupLaunched records a worker start on the job span in ctx
func GroupLaunched(ctx context.Context, group string, gpu, pid int) {
	trace.SpanFromContext(ctx).AddEvent("group.launched", trace.WithAttributes(
		KeyGroup.String(group),
		KeyGPU.Int(gpu),
		KeyPID.Int(pid),
	))
}

// JobSummary attaches the aggregated counts to the job span in ctx
func JobSummary(ctx context.Context, images, defects, quarantined int) {
	trace.SpanFromContext(ctx).SetAttributes(
		KeyImages.Int(images),
		KeyDefects.Int(defects),
		KeyQuarantined.Int(quarantined),
	)
}

// SetError marks the span in ctx as failed
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
