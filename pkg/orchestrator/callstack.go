package orchestrator

import (
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

// PendingSubTopic records a waited-for sub-topic while it is in flight.
// The record is created when control is handed down and removed by the
// completion handler.
type PendingSubTopic struct {
	CallingTopic     *workflow.Topic
	SubTopic         *workflow.Topic
	CallingTopicName string
	SubTopicName     string
	StartTime        time.Time
}

// frame is one suspended caller on the pause stack.
type frame struct {
	topic *workflow.Topic
	info  domain.TopicCallInfo
}

// callStack is the LIFO list of paused topics. A topic name may appear at
// most once in the active call chain; contains() backs the cycle guard.
type callStack struct {
	mu     sync.Mutex
	frames []frame
}

func (s *callStack) push(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *callStack) pop() (frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return frame{}, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, true
}

func (s *callStack) contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if f.topic.Name() == name {
			return true
		}
	}
	return false
}

func (s *callStack) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *callStack) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// pendingMap tracks in-flight sub-topics keyed by name.
type pendingMap struct {
	mu sync.Mutex
	m  map[string]PendingSubTopic
}

func newPendingMap() *pendingMap {
	return &pendingMap{m: make(map[string]PendingSubTopic)}
}

func (p *pendingMap) add(rec PendingSubTopic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[rec.SubTopicName] = rec
}

// remove looks up and deletes the record in one step so the completion
// handler can run at most once per hand-down.
func (p *pendingMap) remove(name string) (PendingSubTopic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.m[name]
	if ok {
		delete(p.m, name)
	}
	return rec, ok
}

func (p *pendingMap) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m = make(map[string]PendingSubTopic)
}
