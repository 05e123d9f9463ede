package resume

import (
	"time"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/plan"
)

// Snapshot is the durable state of a run at a suspension point: enough of
// the plan state machine to continue from the stored revision instead of
// starting fresh. The engine writes one after every completed step, so a
// crash or pause loses at most the in-flight step.
type Snapshot struct {
	ThreadID  string      `json:"threadId"`
	RunID     string      `json:"runId"`
	Objective string      `json:"objective"`
	Mode      string      `json:"mode,omitempty"`
	Plan      *plan.Plan  `json:"plan"`
	Facets    core.Facets `json:"facets"`
	HITL      hitl.State  `json:"hitl"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out while the run keeps mutating
// its own state.
func (s *Snapshot) Clone() (*Snapshot, error) {
	cp := *s
	if s.Plan != nil {
		cp.Plan = s.Plan.Clone()
	}
	if s.Facets != nil {
		facets, err := s.Facets.Clone()
		if err != nil {
			return nil, err
		}
		cp.Facets = facets
	}
	if s.HITL.Requests != nil {
		cp.HITL.Requests = make([]hitl.Request, len(s.HITL.Requests))
		copy(cp.HITL.Requests, s.HITL.Requests)
	}
	return &cp, nil
}

// Store persists snapshots keyed by an opaque, caller-supplied thread
// identifier. Last write wins; the engine never evicts entries (eviction,
// if any, is a deployment concern). Two concurrent runs sharing one
// thread id is an accepted race with last-write-wins snapshot semantics.
type Store interface {
	Put(threadID string, snapshot *Snapshot) error
	Get(threadID string) (*Snapshot, error)
	Has(threadID string) (bool, error)
}

// ErrNotFound is returned by Get for unknown thread identifiers.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "resume: no snapshot for thread" }
