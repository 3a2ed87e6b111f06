/*
Package events defines the event envelope and the bus that carries it.

Colloquy coordinates everything through events: activities publish onto
their topic's internal bus, topics forward onto the session's domain bus,
and the orchestrator only ever observes envelopes. Both tiers use the same
Bus type and the same Envelope shape; forwarding re-tags an envelope with
the topic's name.

Publish is fire-and-forget for the caller but delivers synchronously to
every subscriber in registration order, so ordering is preserved and the
handler chain is the only backpressure. Handler panics and errors are
captured and re-emitted as fault envelopes rather than lost or propagated.
*/
package events
