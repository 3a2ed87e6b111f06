package domain

import "time"

// ConversationSnapshot is the persistable view of a session: which topic
// is active and a shallow snapshot of every topic's workflow context. The
// live call stack is deliberately not serialized; a restored session
// starts from Idle with its context data intact.
type ConversationSnapshot struct {
	SessionID   string                    `json:"session_id"`
	ActiveTopic string                    `json:"active_topic,omitempty"`
	Contexts    map[string]map[string]any `json:"contexts"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}
