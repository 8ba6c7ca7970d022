package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	postings          metric.Int64Counter
	reconTransitions  metric.Int64Counter
	depreciationPosts metric.Int64Counter
	scheduleBuilds    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "glcore"
	}
	meter := provider.Meter(name)

	postings, err := meter.Int64Counter("glcore_postings_total")
	if err != nil {
		return nil, err
	}
	reconTransitions, err := meter.Int64Counter("glcore_reconciliation_transitions_total")
	if err != nil {
		return nil, err
	}
	depreciationPosts, err := meter.Int64Counter("glcore_depreciation_posts_total")
	if err != nil {
		return nil, err
	}
	scheduleBuilds, err := meter.Int64Counter("glcore_schedule_builds_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		postings:          postings,
		reconTransitions:  reconTransitions,
		depreciationPosts: depreciationPosts,
		scheduleBuilds:    scheduleBuilds,
	}, nil
}

// RecordPosting increments committed posting counts.
func (m *Metrics) RecordPosting(ctx context.Context, book string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("book", strings.TrimSpace(book)))
	m.postings.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciliationTransition increments workflow transition counts.
func (m *Metrics) RecordReconciliationTransition(ctx context.Context, transition string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transition", strings.TrimSpace(transition)))
	m.reconTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDepreciationPost increments posted depreciation period counts.
func (m *Metrics) RecordDepreciationPost(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.depreciationPosts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScheduleBuild increments schedule build counts.
func (m *Metrics) RecordScheduleBuild(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.scheduleBuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"book":        {},
	"transition":  {},
	"kind":        {},
	"method":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
