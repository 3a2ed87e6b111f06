package workflow

import (
	"context"

	"github.com/colloquyhq/colloquy/pkg/domain"
)

// ExecutionRequest is the payload of an execution-requested envelope. It
// carries everything an activity needs to run: the target id, optional
// input, a reference to the topic's workflow context, and the cancellation
// scope of the topic run.
type ExecutionRequest struct {
	ActivityID string
	Input      *domain.ResumeInput
	Context    *Context

	// Ctx is the topic run's cancellation scope. Activities derive their
	// work context from it so cancelling the run cancels in-flight work.
	Ctx context.Context
}
