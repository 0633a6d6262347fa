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

// Metrics exposes billing instruments. A nil *Metrics records nothing.
type Metrics struct {
	invoicesCreated metric.Int64Counter
	invoiceStatus   metric.Int64Counter
	numberConflicts metric.Int64Counter
	receiptsCreated metric.Int64Counter
	documentsSent   metric.Int64Counter
	invoicedAmount  metric.Float64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the billing instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fieldbill"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.invoicesCreated, err = meter.Int64Counter("fieldbill_invoices_created_total"); err != nil {
		return nil, err
	}
	if m.invoiceStatus, err = meter.Int64Counter("fieldbill_invoice_status_changes_total"); err != nil {
		return nil, err
	}
	if m.numberConflicts, err = meter.Int64Counter("fieldbill_number_conflicts_total"); err != nil {
		return nil, err
	}
	if m.receiptsCreated, err = meter.Int64Counter("fieldbill_receipts_created_total"); err != nil {
		return nil, err
	}
	if m.documentsSent, err = meter.Int64Counter("fieldbill_documents_sent_total"); err != nil {
		return nil, err
	}
	if m.invoicedAmount, err = meter.Float64Counter("fieldbill_invoiced_amount_total",
		metric.WithDescription("Sum of invoice totals at creation time."),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordInvoiceCreated counts a new draft invoice and its total.
func (m *Metrics) RecordInvoiceCreated(ctx context.Context, total float64) {
	if m == nil {
		return
	}
	m.invoicesCreated.Add(ctx, 1)
	m.invoicedAmount.Add(ctx, total)
}

// RecordInvoiceStatus counts a persisted status change.
func (m *Metrics) RecordInvoiceStatus(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.invoiceStatus.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNumberConflict counts a retried numbering collision.
func (m *Metrics) RecordNumberConflict(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("document_kind", strings.TrimSpace(kind)))
	m.numberConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReceiptCreated counts a new receipt.
func (m *Metrics) RecordReceiptCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.receiptsCreated.Add(ctx, 1)
}

// RecordDocumentSent counts an email delivery attempt by outcome.
func (m *Metrics) RecordDocumentSent(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := FilterAttributes(
		attribute.String("document_kind", strings.TrimSpace(kind)),
		attribute.String("outcome", outcome),
	)
	m.documentsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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
	"document_kind": {},
	"from_status":   {},
	"to_status":     {},
	"outcome":       {},
	"method":        {},
	"route":         {},
	"status_code":   {},
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
