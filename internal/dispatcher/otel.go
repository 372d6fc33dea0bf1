package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tankclash/matchcore/internal/dispatcher"

// metrics are per-topic counters on the global meter provider. They are
// no-ops until a provider is installed.
type metrics struct {
	queued    metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter
}

func newMetrics(queueLens func() map[string]int) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&out.processed, "dispatcher.events.processed", "Events handled by a buffered topic"},
		{&out.dropped, "dispatcher.events.dropped", "Events dropped because a topic queue was full"},
		{&out.failed, "dispatcher.events.failed", "Events whose handler returned an error"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	out.queued, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a topic queue"))
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for topic, n := range queueLens() {
			o.ObserveInt64(out.queued, int64(n), metric.WithAttributes(attribute.String("topic", topic)))
		}
		return nil
	}, out.queued)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	return &out, nil
}

func topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}
