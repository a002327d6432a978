package scheduler

import (
	"sync"
)

// Scheduler tracks story completion against the dependency graph and
// answers the "what can run now" query. Safe for use from concurrent
// workers; the graph itself is fixed after discovery.
type Scheduler struct {
	graph *Graph

	mu        sync.Mutex
	completed map[string]bool
	claimed   map[string]bool
}

// New creates a Scheduler over an already-built dependency graph
func New(graph *Graph) *Scheduler {
	return &Scheduler{
		graph:     graph,
		completed: make(map[string]bool),
		claimed:   make(map[string]bool),
	}
}

// Graph returns the underlying dependency graph
func (s *Scheduler) Graph() *Graph {
	return s.graph
}

// MarkCompleted records a story as completed
func (s *Scheduler) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = true
	delete(s.claimed, id)
}

// IsCompleted returns true if the story has been marked completed
func (s *Scheduler) IsCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[id]
}

// CompletedCount returns the number of completed stories
func (s *Scheduler) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// Ready returns stories whose dependencies are satisfied and that have not
// been completed or claimed, in lexicographic order.
func (s *Scheduler) Ready() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := s.graph.Executable(s.completed)
	out := ready[:0]
	for _, id := range ready {
		if !s.claimed[id] {
			out = append(out, id)
		}
	}
	return out
}

// Claim marks a story as owned by a worker so Ready stops returning it.
// Returns false if the story was already claimed or completed.
func (s *Scheduler) Claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] || s.completed[id] {
		return false
	}
	s.claimed[id] = true
	return true
}

// Release returns a claimed story to the pool without completing it
func (s *Scheduler) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
}

// Done returns true once every story in the graph is completed
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed) >= s.graph.Len()
}
