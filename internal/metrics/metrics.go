// Package metrics exposes Prometheus collectors for the conversation
// engine. The collector observes a domain bus; nothing in the core knows
// metrics exist.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/colloquyhq/colloquy/pkg/events"
)

// Collector counts engine activity observed on a domain bus.
type Collector struct {
	published     *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	handDowns     prometheus.Counter
	routingMisses prometheus.Counter
}

// New creates the collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "colloquy_events_published_total",
			Help: "Envelopes published on the domain bus, by event type.",
		}, []string{"type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "colloquy_topic_outcomes_total",
			Help: "Terminal topic outcomes, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		handDowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "colloquy_handdowns_total",
			Help: "Sub-topic hand-down requests.",
		}),
		routingMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "colloquy_routing_misses_total",
			Help: "Messages no topic scored above zero for.",
		}),
	}
	reg.MustRegister(c.published, c.outcomes, c.handDowns, c.routingMisses)
	return c
}

// HandDowns returns the hand-down counter.
func (c *Collector) HandDowns() prometheus.Counter { return c.handDowns }

// RoutingMisses returns the routing-miss counter.
func (c *Collector) RoutingMisses() prometheus.Counter { return c.routingMisses }

// Attach subscribes the collector to a domain bus. The returned
// subscription detaches it.
func (c *Collector) Attach(bus *events.Bus) *events.Subscription {
	return bus.SubscribeAll(func(ev events.Envelope) error {
		c.published.WithLabelValues(string(ev.Type)).Inc()
		switch ev.Type {
		case events.TopicCompleted:
			c.outcomes.WithLabelValues(ev.Topic, "completed").Inc()
		case events.TopicFailed:
			c.outcomes.WithLabelValues(ev.Topic, "failed").Inc()
		case events.TopicTerminated:
			c.outcomes.WithLabelValues(ev.Topic, "terminated").Inc()
		case events.HandDownRequested:
			c.handDowns.Inc()
		case events.RoutingNoMatch:
			c.routingMisses.Inc()
		}
		return nil
	})
}
