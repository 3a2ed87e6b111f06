/*
Package orchestrator drives a single conversation session. It holds the
one active topic, wires and unwires its forwarding subscription on the
domain bus, routes input messages through the topic registry, and runs the
hand-down protocol: suspending a calling topic while a sub-topic runs and
resuming it with merged completion state afterwards.

The outward API is fire-and-forget. ProcessMessage, HandleExternalInput,
StartConversation and ResetConversation return nothing; every outcome
surfaces as an envelope on the domain bus.
*/
package orchestrator
