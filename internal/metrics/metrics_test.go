package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/pkg/events"
)

func TestCollector_CountsBusTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	bus := events.NewBus()
	sub := collector.Attach(bus)

	bus.Publish(events.New("t", events.MessageReady, nil).ForTopic("greeting"))
	bus.Publish(events.New("t", events.TopicCompleted, nil).ForTopic("greeting"))
	bus.Publish(events.New("t", events.TopicFailed, nil).ForTopic("billing"))
	bus.Publish(events.New("t", events.HandDownRequested, map[string]any{events.KeySubTopic: "x"}).ForTopic("billing"))
	bus.Publish(events.New("o", events.RoutingNoMatch, nil))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.HandDowns()))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.RoutingMisses()))

	// Detached collectors stop counting.
	bus.Unsubscribe(sub)
	bus.Publish(events.New("o", events.RoutingNoMatch, nil))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.RoutingMisses()))
}
