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
	decisions     metric.Int64Counter
	snapshotHits  metric.Int64Counter
	snapshotMiss  metric.Int64Counter
	diffsApplied  metric.Int64Counter
	invalidations metric.Int64Counter
	bypasses      metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "featuregate"
	}
	meter := provider.Meter(name)

	decisions, err := meter.Int64Counter("featuregate_decisions_total")
	if err != nil {
		return nil, err
	}
	snapshotHits, err := meter.Int64Counter("featuregate_snapshot_hits_total")
	if err != nil {
		return nil, err
	}
	snapshotMiss, err := meter.Int64Counter("featuregate_snapshot_misses_total")
	if err != nil {
		return nil, err
	}
	diffsApplied, err := meter.Int64Counter("featuregate_diffs_applied_total")
	if err != nil {
		return nil, err
	}
	invalidations, err := meter.Int64Counter("featuregate_invalidations_total")
	if err != nil {
		return nil, err
	}
	bypasses, err := meter.Int64Counter("featuregate_bypasses_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		decisions:     decisions,
		snapshotHits:  snapshotHits,
		snapshotMiss:  snapshotMiss,
		diffsApplied:  diffsApplied,
		invalidations: invalidations,
		bypasses:      bypasses,
	}, nil
}

// RecordDecision counts one gate evaluation by outcome.
func (m *Metrics) RecordDecision(ctx context.Context, effect, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("effect", strings.TrimSpace(effect)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSnapshotHit counts snapshot cache hits.
func (m *Metrics) RecordSnapshotHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.snapshotHits.Add(ctx, 1)
}

// RecordSnapshotMiss counts snapshot cache misses.
func (m *Metrics) RecordSnapshotMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.snapshotMiss.Add(ctx, 1)
}

// RecordDiffApplied counts committed update engine transactions.
func (m *Metrics) RecordDiffApplied(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.diffsApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvalidation counts snapshot invalidations by origin.
func (m *Metrics) RecordInvalidation(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("origin", strings.TrimSpace(origin)))
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBypass counts platform capability bypasses of entitlement gating.
func (m *Metrics) RecordBypass(ctx context.Context, capability string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("capability", strings.TrimSpace(capability)))
	m.bypasses.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"effect":     {},
	"source":     {},
	"event_type": {},
	"origin":     {},
	"capability": {},
	"surface":    {},
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
