package domain

// SubTopicCompleted is the sentinel input delivered to a suspended topic
// when the sub-topic it handed control to has finished. Activities that
// park on a hand-down resolve against it when the topic resumes.
const SubTopicCompleted = "subtopic:completed"

// TopicCallInfo carries caller/callee metadata across a hand-down so the
// resumed caller can see where its completion data came from.
type TopicCallInfo struct {
	CallingTopicName string
	SubTopicName     string

	// ResumeData is merged into the completion snapshot before the caller
	// is resumed.
	ResumeData map[string]any
}

// ResumeInput is what a suspended topic receives when it regains control.
type ResumeInput struct {
	// Sentinel is SubTopicCompleted for hand-down resumptions; external
	// input resumptions leave it empty.
	Sentinel string

	// Data holds externally supplied input (form submission fields) or the
	// merged completion snapshot of the finished sub-topic.
	Data map[string]any
}
