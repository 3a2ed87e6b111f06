package domain

import "errors"

var (
	// ErrIllegalTransition is returned when a state machine is asked to move
	// along an edge that its transition table does not allow.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNoTopicMatched is returned by routing when no registered topic
	// scores above zero for a message.
	ErrNoTopicMatched = errors.New("no topic matched")

	// ErrTopicNotFound is returned when a topic name is not registered.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrTopicActive is returned when an activation request names a topic
	// that is already active or suspended on the call stack.
	ErrTopicActive = errors.New("topic already active in call chain")

	// ErrSessionNotFound is returned when a session ID cannot be found in
	// the store.
	ErrSessionNotFound = errors.New("session not found")
)
