package journal

import (
	"time"

	"loopsmith/internal/model"
)

// EventType identifies a journal record.
type EventType string

const (
	EventSessionStarted     EventType = "session_started"
	EventPhaseChanged       EventType = "phase_changed"
	EventToolCallDecided    EventType = "tool_call_decided"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepSkipped        EventType = "step_skipped"
	EventGateEvaluated      EventType = "gate_evaluated"
	EventIterationCompleted EventType = "iteration_completed"
	EventSessionAborted     EventType = "session_aborted"
	EventSessionCompleted   EventType = "session_completed"
)

// Event is one immutable journal record. Records are strictly ordered per
// session (Seq is assigned by the journal on append) and never edited or
// deleted. The wire shape is stable: resume and external log viewers both
// parse it.
type Event struct {
	Type       EventType `json:"event_type"`
	SessionID  string    `json:"session_id"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        int       `json:"seq"`

	// session_started
	Budget      *model.Budget `json:"budget,omitempty"`
	ResumedFrom string        `json:"resumed_from,omitempty"`

	// phase_changed / iteration tracking
	FromState model.SessionState `json:"from_state,omitempty"`
	ToState   model.SessionState `json:"to_state,omitempty"`
	Iteration int                `json:"iteration,omitempty"`

	// tool_call_decided
	Tool    string `json:"tool,omitempty"`
	Allowed *bool  `json:"allowed,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// step lifecycle
	Step       string `json:"step,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`

	// gate_evaluated
	Gate   string `json:"gate,omitempty"`
	Passed *bool  `json:"passed,omitempty"`
	Output string `json:"output,omitempty"`

	// terminal records
	Outcome model.SessionState `json:"outcome,omitempty"`
}

func SessionStarted(sessionID, workflowID string, budget model.Budget, resumedFrom string) Event {
	return Event{
		Type:        EventSessionStarted,
		SessionID:   sessionID,
		WorkflowID:  workflowID,
		Budget:      &budget,
		ResumedFrom: resumedFrom,
	}
}

func PhaseChanged(sessionID, workflowID string, from, to model.SessionState, iteration int) Event {
	return Event{
		Type:       EventPhaseChanged,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		FromState:  from,
		ToState:    to,
		Iteration:  iteration,
	}
}

func ToolCallDecided(sessionID, workflowID, tool string, allowed bool, reason string) Event {
	return Event{
		Type:       EventToolCallDecided,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Tool:       tool,
		Allowed:    &allowed,
		Reason:     reason,
	}
}

func StepStarted(sessionID, workflowID, step string) Event {
	return Event{
		Type:       EventStepStarted,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Step:       step,
	}
}

func StepCompleted(sessionID, workflowID, step string, duration time.Duration) Event {
	return Event{
		Type:       EventStepCompleted,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Step:       step,
		DurationMs: duration.Milliseconds(),
	}
}

func StepFailed(sessionID, workflowID, step string, duration time.Duration, errText string) Event {
	return Event{
		Type:       EventStepFailed,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Step:       step,
		DurationMs: duration.Milliseconds(),
		Error:      errText,
	}
}

func StepSkipped(sessionID, workflowID, step, reason string) Event {
	return Event{
		Type:       EventStepSkipped,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Step:       step,
		Reason:     reason,
	}
}

func GateEvaluated(sessionID, workflowID, gate string, passed bool, output string, iteration int) Event {
	return Event{
		Type:       EventGateEvaluated,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Gate:       gate,
		Passed:     &passed,
		Output:     output,
		Iteration:  iteration,
	}
}

func IterationCompleted(sessionID, workflowID string, iteration int) Event {
	return Event{
		Type:       EventIterationCompleted,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Iteration:  iteration,
	}
}

func SessionAborted(sessionID, workflowID, reason string) Event {
	return Event{
		Type:       EventSessionAborted,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Reason:     reason,
		Outcome:    model.SessionAborted,
	}
}

func SessionCompleted(sessionID, workflowID string, outcome model.SessionState, reason string) Event {
	return Event{
		Type:       EventSessionCompleted,
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Outcome:    outcome,
		Reason:     reason,
	}
}
