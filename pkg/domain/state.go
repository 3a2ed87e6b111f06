package domain

// ActivityState defines the lifecycle state of a single activity.
type ActivityState string

const (
	ActivityIdle       ActivityState = "idle"
	ActivityRunning    ActivityState = "running"
	ActivityCompleted  ActivityState = "completed"
	ActivityFailed     ActivityState = "failed"
	ActivityTimedOut   ActivityState = "timed_out"
	ActivityTerminated ActivityState = "terminated"
)

// String returns a human-readable representation of the ActivityState.
func (s ActivityState) String() string { return string(s) }

// Terminal reports whether the state ends an activity's run.
func (s ActivityState) Terminal() bool {
	switch s {
	case ActivityCompleted, ActivityFailed, ActivityTimedOut, ActivityTerminated:
		return true
	}
	return false
}

// TopicState defines the lifecycle state of a topic run.
type TopicState string

const (
	TopicIdle       TopicState = "idle"
	TopicRunning    TopicState = "running"
	TopicWaiting    TopicState = "waiting"
	TopicCompleted  TopicState = "completed"
	TopicFailed     TopicState = "failed"
	TopicTerminated TopicState = "terminated"
)

// String returns a human-readable representation of the TopicState.
func (s TopicState) String() string { return string(s) }

// Terminal reports whether the state ends a topic's run.
func (s TopicState) Terminal() bool {
	switch s {
	case TopicCompleted, TopicFailed, TopicTerminated:
		return true
	}
	return false
}
