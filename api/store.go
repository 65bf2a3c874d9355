package api

import (
	"sync"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// RequestStore holds every in-flight and completed Request so a status
// query (spec §6.1) can look one up by id without re-running the
// pipeline. Grounded on core.MemoryStore's locking discipline; a
// Redis-backed variant is left for the same "memory in testing, Redis
// in production" seam as directory/ and queue/ if this ever needs to
// survive a process restart, since nothing in spec.md requires one —
// a Request's caller-visible fields are cheap to recompute from the
// pipeline's own stage outputs, unlike the directory and queue, which
// hold contended mutable state shared across processes.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*request.Request
	logger   core.Logger
}

// NewRequestStore creates an empty store.
func NewRequestStore(logger core.Logger) *RequestStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RequestStore{requests: make(map[string]*request.Request), logger: logger}
}

// Put records or overwrites the Request under its own RequestID.
func (s *RequestStore) Put(req *request.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req
}

// Get looks up a Request by id.
func (s *RequestStore) Get(requestID string) (*request.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	return req, ok
}

// CountInFlight reports how many stored requests have not yet reached a
// terminal workflow_status, used by the `status`/`drain` control surface.
func (s *RequestStore) CountInFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if !r.IsTerminal() {
			n++
		}
	}
	return n
}
