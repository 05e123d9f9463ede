package hitl

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRequestPending is returned by Raise when the run already has an
// unresolved request. The earlier request must resolve or be denied first;
// the gate never silently overwrites it.
var ErrRequestPending = errors.New("hitl: a request is already pending for this run")

// ErrNotFound is returned for operations on unknown request ids.
var ErrNotFound = errors.New("hitl: request not found")

// ErrNotPending is returned when resolving or denying a request that has
// already been decided.
var ErrNotPending = errors.New("hitl: request is not pending")

// Gate tracks human-in-the-loop requests across runs. Raising a request
// suspends the originating step; resolution or denial returns the run to a
// schedulable state. Safe for concurrent use: the run loop raises while an
// external caller resolves.
type Gate struct {
	mu       sync.Mutex
	requests map[string]*Request
	pending  map[string]string // runID -> pending requestID
	byRun    map[string][]string
	denials  map[string]int
	now      func() time.Time
}

// NewGate constructs an empty gate.
func NewGate() *Gate {
	return &Gate{
		requests: make(map[string]*Request),
		pending:  make(map[string]string),
		byRun:    make(map[string][]string),
		denials:  make(map[string]int),
		now:      time.Now,
	}
}

// Raise records a new pending request for the run and returns it. Fails
// fast with ErrRequestPending while an earlier request is undecided.
func (g *Gate) Raise(runID, stepID string, payload Payload) (*Request, error) {
	if payload.Kind == "" {
		return nil, fmt.Errorf("hitl: payload kind is required")
	}
	if payload.Kind == KindChoice && len(payload.Options) == 0 {
		return nil, fmt.Errorf("hitl: choice request needs at least one option")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.pending[runID]; busy {
		return nil, ErrRequestPending
	}

	now := g.now()
	req := &Request{
		ID:      "hitl_" + uuid.NewString(),
		RunID:   runID,
		StepID:  stepID,
		Payload: payload,
		Status:  StatusPending,
		Created: now,
		Updated: now,
	}
	g.requests[req.ID] = req
	g.pending[runID] = req.ID
	g.byRun[runID] = append(g.byRun[runID], req.ID)

	return cloned(req), nil
}

// Resolve marks a pending request resolved with the human's response.
func (g *Gate) Resolve(requestID string, resp Response) (*Request, error) {
	return g.decide(requestID, StatusResolved, &resp, "")
}

// Deny marks a pending request denied and increments the run's denial
// counter. Whether a denial fails the run is policy territory; the gate
// only records it.
func (g *Gate) Deny(requestID, reason string) (*Request, error) {
	return g.decide(requestID, StatusDenied, nil, reason)
}

func (g *Gate) decide(requestID string, status Status, resp *Response, reason string) (*Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	req.Status = status
	req.Response = resp
	req.Reason = reason
	req.Updated = g.now()
	delete(g.pending, req.RunID)
	if status == StatusDenied {
		g.denials[req.RunID]++
	}

	return cloned(req), nil
}

// Get returns the request with the given id.
func (g *Gate) Get(requestID string) (*Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloned(req), nil
}

// Pending returns the run's outstanding request, if any.
func (g *Gate) Pending(runID string) (*Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.pending[runID]
	if !ok {
		return nil, false
	}
	return cloned(g.requests[id]), true
}

// Denials returns how many of the run's requests have been denied.
func (g *Gate) Denials(runID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.denials[runID]
}

// State exports the run's gate state for snapshotting.
func (g *Gate) State(runID string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{Denials: g.denials[runID]}
	for _, id := range g.byRun[runID] {
		st.Requests = append(st.Requests, *cloned(g.requests[id]))
	}
	return st
}

// Restore re-imports a previously exported state, keyed to the (possibly
// new) run id. Last write wins on collision, matching the resume store's
// snapshot semantics.
func (g *Gate) Restore(runID string, st State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.denials[runID] = st.Denials
	g.byRun[runID] = nil
	delete(g.pending, runID)
	for i := range st.Requests {
		req := st.Requests[i]
		req.RunID = runID
		g.requests[req.ID] = &req
		g.byRun[runID] = append(g.byRun[runID], req.ID)
		if req.Status == StatusPending {
			g.pending[runID] = req.ID
		}
	}
}

func cloned(r *Request) *Request {
	cp := *r
	if r.Response != nil {
		resp := *r.Response
		cp.Response = &resp
	}
	return &cp
}
