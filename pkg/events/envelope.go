package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of an envelope.
type EventType string

// Activity lifecycle events, published on a topic's internal bus.
const (
	ExecutionRequested   EventType = "execution_requested"
	ActivityStateChanged EventType = "activity_state_changed"
	ActivityCompleted    EventType = "activity_completed"
	ActivityFailed       EventType = "activity_failed"
	ActivityTimedOut     EventType = "activity_timed_out"
	ActivityTerminated   EventType = "activity_terminated"
	ActivityWaiting      EventType = "activity_waiting"
)

// Topic lifecycle events, published on the domain bus.
const (
	TopicStarted      EventType = "topic_started"
	TopicStateChanged EventType = "topic_state_changed"
	TopicCompleted    EventType = "topic_completed"
	TopicFailed       EventType = "topic_failed"
	TopicTerminated   EventType = "topic_terminated"
)

// Boundary and control events.
const (
	MessageReady      EventType = "message_ready"
	CardReady         EventType = "card_ready"
	HandDownRequested EventType = "handdown_requested"
	RoutingNoMatch    EventType = "routing_no_match"
	HandlerFault      EventType = "handler_fault"
)

// Payload keys shared by publishers and subscribers.
const (
	KeyActivityID = "activity_id"
	KeyRequest    = "request"
	KeyPrevious   = "previous"
	KeyNext       = "next"
	KeyReason     = "reason"
	KeyErrorKind  = "error_kind"
	KeySnapshot   = "snapshot"
	KeyText       = "text"
	KeyCard       = "card"
	KeySubTopic   = "sub_topic"
	KeyWait       = "wait"
	KeyMessage    = "message"
	KeyEventType  = "event_type"
)

// Envelope is the immutable message exchanged on both bus tiers. Version is
// bumped only when the envelope shape itself changes; subscribers may use
// it to reject envelopes they do not understand.
type Envelope struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	Type      EventType      `json:"type"`
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Topic     string         `json:"topic,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EnvelopeVersion is the current envelope shape version.
const EnvelopeVersion = 1

// New creates an envelope stamped with a fresh ID and the current time.
func New(sourceID string, t EventType, payload map[string]any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Type:      t,
		Version:   EnvelopeVersion,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// ForTopic returns a copy of the envelope re-tagged with the topic name.
// The payload is shared; envelopes are treated as read-only after publish.
func (e Envelope) ForTopic(name string) Envelope {
	e.Topic = name
	return e
}

// GetString returns the payload value under key if it is a string.
func (e Envelope) GetString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the payload value under key if it is a bool.
func (e Envelope) GetBool(key string) bool {
	if v, ok := e.Payload[key].(bool); ok {
		return v
	}
	return false
}
