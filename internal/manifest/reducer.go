package manifest

import (
	"errors"

	"loopsmith/internal/journal"
	"loopsmith/internal/model"
)

// ErrEmptyJournal is returned when the journal holds zero valid records.
var ErrEmptyJournal = errors.New("journal contains no valid records")

// ErrNoSessionStart is returned when the journal never records a
// session_started event, so there is no session to reconstruct.
var ErrNoSessionStart = errors.New("journal has no session_started record")

// Reduce folds an ordered event sequence into the manifest it implies.
// The fold is pure and deterministic: replaying the same sequence always
// yields the same manifest, and reducing a prefix then applying the suffix
// incrementally equals reducing the whole sequence in one pass.
func Reduce(events []journal.Event) (*Manifest, error) {
	if len(events) == 0 {
		return nil, ErrEmptyJournal
	}
	if events[0].Type != journal.EventSessionStarted {
		return nil, ErrNoSessionStart
	}

	m := &Manifest{}
	for _, ev := range events {
		Apply(m, ev)
	}
	return m, nil
}

// Apply folds one event into the manifest in place. Each event type is one
// deterministic transition; unknown types are ignored so newer journals
// stay readable by older reducers.
func Apply(m *Manifest, ev journal.Event) {
	switch ev.Type {
	case journal.EventSessionStarted:
		m.Workflow.ID = ev.WorkflowID
		m.Run.SessionID = ev.SessionID
		m.Run.State = model.SessionInit
		m.Run.StartedAt = model.TimestampPtr(ev.Timestamp)
		m.Run.ResumedFrom = ev.ResumedFrom

	case journal.EventPhaseChanged:
		m.Run.State = ev.ToState
		if ev.Iteration > m.Run.Iterations {
			m.Run.Iterations = ev.Iteration
		}

	case journal.EventStepStarted:
		s := upsertStep(m, ev.Step)
		if s.Status == model.StepFailed {
			s.Retries++
		}
		s.Status = model.StepRunning
		s.StartedAt = model.TimestampPtr(ev.Timestamp)
		s.EndedAt = nil
		s.Error = ""

	case journal.EventStepCompleted:
		s := upsertStep(m, ev.Step)
		s.Status = model.StepSuccess
		s.EndedAt = model.TimestampPtr(ev.Timestamp)
		s.DurationMs = ev.DurationMs
		s.Error = ""

	case journal.EventStepFailed:
		s := upsertStep(m, ev.Step)
		s.Status = model.StepFailed
		s.EndedAt = model.TimestampPtr(ev.Timestamp)
		s.DurationMs = ev.DurationMs
		s.Error = ev.Error

	case journal.EventStepSkipped:
		s := upsertStep(m, ev.Step)
		// A step already recorded as success keeps that status; skip
		// records on resume must not erase the original outcome.
		if s.Status != model.StepSuccess {
			s.Status = model.StepSkipped
		}

	case journal.EventIterationCompleted:
		if ev.Iteration > m.Run.Iterations {
			m.Run.Iterations = ev.Iteration
		}

	case journal.EventSessionAborted:
		m.Run.State = model.SessionAborted
		m.Run.EndedAt = model.TimestampPtr(ev.Timestamp)
		m.Run.Reason = ev.Reason

	case journal.EventSessionCompleted:
		m.Run.State = ev.Outcome
		m.Run.EndedAt = model.TimestampPtr(ev.Timestamp)
		m.Run.Reason = ev.Reason
	}
}

func upsertStep(m *Manifest, name string) *model.StepResult {
	if s := m.Step(name); s != nil {
		return s
	}
	m.Steps = append(m.Steps, model.StepResult{Name: name, Status: model.StepPending})
	return &m.Steps[len(m.Steps)-1]
}

// FromJournal reads a session directory's journal and reduces it. A journal
// that cannot be read at all, or reduces to nothing, is a resume failure;
// callers decide whether to fall back to a fresh build.
func FromJournal(sessionDir string) (*Manifest, error) {
	events, err := journal.ReadSession(sessionDir)
	if err != nil {
		return nil, err
	}
	return Reduce(events)
}
