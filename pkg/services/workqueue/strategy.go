package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once. The
// strategy tracks running tasks and decides whether a pending task
// can start given the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task can start given current state
	CanStart() bool
	// OnStart is called when a task starts
	OnStart()
	// OnComplete is called when a task completes
	OnComplete()
}

// SerializedStrategy runs one task at a time. A single report is only
// ever processed by one active job, and serializing all jobs is the
// simplest way to get that on a single worker.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that runs tasks one at a time.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ThrottledStrategy allows up to maxConcurrent tasks to run in
// parallel: the worker pool. Distinct reports may be ingested
// concurrently; correctness between them rests on database uniqueness
// constraints, not on coordination here.
type ThrottledStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewThrottledStrategy creates a strategy that allows up to
// maxConcurrent tasks to run in parallel.
func NewThrottledStrategy(maxConcurrent int) *ThrottledStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *ThrottledStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *ThrottledStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}
