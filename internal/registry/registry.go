// Package registry keeps the process-local directory of connected runs:
// workflow executions that report lifecycle back to the daemon so approvals
// and webhook payloads can be delivered to them. All operations are short,
// in-memory, and safe under concurrent request handlers; there is no I/O
// inside any critical section.
package registry

import (
	"sync"
	"time"

	"loopsmith/internal/model"
)

// DefaultMailboxSize bounds each run's event mailbox. On overflow the
// oldest event is evicted; delivery is at-least-once, not lossless under a
// consumer that never pops.
const DefaultMailboxSize = 256

type entry struct {
	run     model.ConnectedRun
	mailbox []model.RunEvent
}

// Registry is the in-memory run directory.
type Registry struct {
	mu          sync.Mutex
	runs        map[string]*entry
	mailboxSize int
	now         func() time.Time
}

func New(mailboxSize int) *Registry {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Registry{
		runs:        make(map[string]*entry),
		mailboxSize: mailboxSize,
		now:         time.Now,
	}
}

// SetClock replaces the time source for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register creates a running entry. Registering an existing run_id resets
// its state; a crashed run re-registering under the same id starts clean.
func (r *Registry) Register(runID, workflowID string, pid int) model.ConnectedRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	e := &entry{
		run: model.ConnectedRun{
			RunID:         runID,
			WorkflowID:    workflowID,
			PID:           pid,
			Status:        model.RunRunning,
			RegisteredAt:  now,
			LastHeartbeat: now,
		},
	}
	r.runs[runID] = e
	return e.run
}

// MarkWaiting parks a run on an approval or webhook. Calling it on a run
// already waiting replaces the wait, so a timeout can be extended without
// resuming first. Returns false for an unknown run or a run already in a
// terminal status.
func (r *Registry) MarkWaiting(runID string, ws model.WaitingState, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return false
	}
	if e.run.Status != model.RunWaiting {
		if err := model.ValidateRunTransition(e.run.Status, model.RunWaiting); err != nil {
			return false
		}
	}
	ws.TimeoutAt = r.now().UTC().Add(timeout)
	e.run.Status = model.RunWaiting
	e.run.WaitingFor = &ws
	return true
}

// Heartbeat refreshes liveness. A stale run is restored to running.
// Returns false for an unknown run_id without creating an entry.
func (r *Registry) Heartbeat(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return false
	}
	e.run.LastHeartbeat = r.now().UTC()
	if e.run.Status == model.RunStale {
		e.run.Status = model.RunRunning
	}
	return true
}

// Resume moves a waiting run back to running, clearing waiting_for.
func (r *Registry) Resume(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || e.run.Status != model.RunWaiting {
		return false
	}
	e.run.Status = model.RunRunning
	e.run.WaitingFor = nil
	return true
}

// Complete sets a terminal status and clears waiting_for. Non-terminal
// statuses are rejected.
func (r *Registry) Complete(runID string, status model.RunStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || !model.IsTerminalRunStatus(status) {
		return false
	}
	if err := model.ValidateRunTransition(e.run.Status, status); err != nil {
		return false
	}
	e.run.Status = status
	e.run.WaitingFor = nil
	return true
}

// PushEvent appends to a run's mailbox, evicting the oldest entry when the
// bound is hit. Returns false before registration.
func (r *Registry) PushEvent(runID string, ev model.RunEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	if len(e.mailbox) >= r.mailboxSize {
		e.mailbox = e.mailbox[1:]
	}
	e.mailbox = append(e.mailbox, ev)
	return true
}

// PopEvents drains the mailbox: accumulated events are returned and the
// mailbox is cleared. A second immediate pop returns nil.
func (r *Registry) PopEvents(runID string) []model.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || len(e.mailbox) == 0 {
		return nil
	}
	out := e.mailbox
	e.mailbox = nil
	return out
}

// Unregister removes all state for a run.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Get returns a copy of one run.
func (r *Registry) Get(runID string) (model.ConnectedRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return model.ConnectedRun{}, false
	}
	return e.run, true
}

// List returns copies of all runs.
func (r *Registry) List() []model.ConnectedRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ConnectedRun, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.run)
	}
	return out
}

// ListWaiting returns all waiting runs. Callers own timeout handling:
// entries whose waiting_for.timeout_at has passed are theirs to treat as
// timed out.
func (r *Registry) ListWaiting() []model.ConnectedRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ConnectedRun
	for _, e := range r.runs {
		if e.run.Status == model.RunWaiting {
			out = append(out, e.run)
		}
	}
	return out
}

// MarkStaleBefore transitions live runs whose last heartbeat predates
// cutoff to stale, returning the affected run ids. Called by the liveness
// sweeper, not by request handlers.
func (r *Registry) MarkStaleBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var marked []string
	for id, e := range r.runs {
		if e.run.Status != model.RunRunning && e.run.Status != model.RunWaiting {
			continue
		}
		if e.run.LastHeartbeat.Before(cutoff) {
			e.run.Status = model.RunStale
			marked = append(marked, id)
		}
	}
	return marked
}
