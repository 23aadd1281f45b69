// Package tracing sets up optional OTLP trace export for audit runs.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/moolen/kubeaudit/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName is reported as service.name on every span
const ServiceName = "kubeaudit"

// Config holds tracing configuration
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint, e.g. "otel-collector:4317"
	TLSCAPath   string // CA bundle for TLS verification (optional)
	TLSInsecure bool   // TLS without certificate verification
	Version     string // service.version attribute
}

// Provider owns the tracer provider for the lifetime of the process.
// A disabled Provider hands out no-op tracers.
type Provider struct {
	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
	logger         *logging.Logger
	enabled        bool
}

// NewProvider creates the tracing provider. When enabled it also becomes
// the global otel tracer provider.
func NewProvider(cfg Config) (*Provider, error) {
	logger := logging.GetLogger("tracing")

	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return &Provider{
			tracerProvider: noop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	creds, err := transportCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}

	otlpOptions := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(creds)),
	}
	if cfg.TLSCAPath == "" && !cfg.TLSInsecure {
		otlpOptions = append(otlpOptions, otlptracegrpc.WithInsecure())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, otlpOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized with endpoint: %s", cfg.Endpoint)

	return &Provider{
		tracerProvider: tp,
		shutdown:       tp.Shutdown,
		logger:         logger,
		enabled:        true,
	}, nil
}

func transportCredentials(cfg Config, logger *logging.Logger) (credentials.TransportCredentials, error) {
	switch {
	case cfg.TLSInsecure:
		logger.Warn("tracing TLS certificate verification disabled")
		return credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		}), nil

	case cfg.TLSCAPath != "":
		caCert, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate to pool")
		}
		logger.Debug("tracing TLS enabled with CA from: %s", cfg.TLSCAPath)
		return credentials.NewTLS(&tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}), nil

	default:
		return insecure.NewCredentials(), nil
	}
}

// Tracer returns a named tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	if err := p.shutdown(ctx); err != nil {
		p.logger.Error("error shutting down tracer provider: %v", err)
		return err
	}
	return nil
}

// Enabled reports whether spans are exported
func (p *Provider) Enabled() bool {
	return p.enabled
}
