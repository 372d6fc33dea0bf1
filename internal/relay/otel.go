package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tankclash/matchcore/pkg/protocol"
)

const instrumentationName = "github.com/tankclash/matchcore/internal/relay"

type metrics struct {
	routedFrames   metric.Int64Counter
	droppedFrames  metric.Int64Counter
	evictedMembers metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(instrumentationName)
	var (
		m   metrics
		err error
	)
	if m.routedFrames, err = meter.Int64Counter("relay.frames.routed",
		metric.WithDescription("Events routed between room members")); err != nil {
		return nil, fmt.Errorf("creating routed counter: %w", err)
	}
	if m.droppedFrames, err = meter.Int64Counter("relay.frames.dropped",
		metric.WithDescription("Frames dropped because a member was too slow")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if m.evictedMembers, err = meter.Int64Counter("relay.members.evicted",
		metric.WithDescription("Members disconnected for falling behind")); err != nil {
		return nil, fmt.Errorf("creating evicted counter: %w", err)
	}
	return &m, nil
}

func (m *metrics) routed(code protocol.Code) {
	m.routedFrames.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("code", int(code))))
}

func (m *metrics) dropped() {
	m.droppedFrames.Add(context.Background(), 1)
}

func (m *metrics) evicted() {
	m.evictedMembers.Add(context.Background(), 1)
}
