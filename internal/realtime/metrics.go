package realtime

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Push outcomes recorded on realtime_pushes_total.
const (
	outcomeDelivered = "delivered"
	outcomeOffline   = "offline"
	outcomeDropped   = "dropped"
)

// Metrics holds the instruments shared by the realtime components. A nil
// *Metrics records nothing.
type Metrics struct {
	pushes     metric.Int64Counter
	broadcasts metric.Int64Counter
	signals    metric.Int64Counter
}

// NewMetrics creates the realtime instruments on meter and registers gauges
// observing registry. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter, registry *Registry) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("realtime")
	}

	pushes, err := meter.Int64Counter("realtime_pushes_total",
		metric.WithDescription("Outbound pushes by event and outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create pushes counter")
	}
	broadcasts, err := meter.Int64Counter("realtime_presence_broadcasts_total",
		metric.WithDescription("Presence broadcasts performed"))
	if err != nil {
		return nil, errors.Wrap(err, "create broadcasts counter")
	}
	signals, err := meter.Int64Counter("realtime_signals_total",
		metric.WithDescription("Typing signals relayed or dropped"))
	if err != nil {
		return nil, errors.Wrap(err, "create signals counter")
	}

	if registry != nil {
		online, err := meter.Int64ObservableGauge("realtime_online_users",
			metric.WithDescription("Users with a session on record"))
		if err != nil {
			return nil, errors.Wrap(err, "create online gauge")
		}
		connected, err := meter.Int64ObservableGauge("realtime_connected_sessions",
			metric.WithDescription("Attached sessions, bound or not"))
		if err != nil {
			return nil, errors.Wrap(err, "create sessions gauge")
		}
		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(online, int64(registry.Len()))
			o.ObserveInt64(connected, int64(registry.Attached()))
			return nil
		}, online, connected)
		if err != nil {
			return nil, errors.Wrap(err, "register gauge callback")
		}
	}

	return &Metrics{pushes: pushes, broadcasts: broadcasts, signals: signals}, nil
}

func (m *Metrics) push(ctx context.Context, event EventName, outcome string) {
	if m == nil {
		return
	}
	m.pushes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(event)),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) broadcast(ctx context.Context) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, 1)
}

func (m *Metrics) signal(ctx context.Context, kind SignalKind, outcome string) {
	if m == nil {
		return
	}
	m.signals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
