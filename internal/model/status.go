package model

import "fmt"

// Phase is the safety mode a build session is operating under.
// Plan is read-only analysis; Execute allows workflow modification.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
)

// SessionState is the controller-level state of a build session.
type SessionState string

const (
	SessionInit        SessionState = "init"
	SessionPlanning    SessionState = "planning"
	SessionExecuting   SessionState = "executing"
	SessionVerifying   SessionState = "verifying"
	SessionDoneSuccess SessionState = "done_success"
	SessionDoneFailure SessionState = "done_failure"
	SessionAborted     SessionState = "aborted"
)

// StepStatus is the state of one plan step within a session.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// RunStatus is the state of a connected run in the registry.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunWaiting   RunStatus = "waiting"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStale     RunStatus = "stale"
)

var terminalSessionStates = map[SessionState]bool{
	SessionDoneSuccess: true,
	SessionDoneFailure: true,
	SessionAborted:     true,
}

var terminalRunStatuses = map[RunStatus]bool{
	RunCompleted: true,
	RunFailed:    true,
}

// Session state machine: init → planning → executing → verifying, with the
// verify→plan back-edge for failed gates. Any non-terminal state may move to
// done_failure (budget exhausted) or aborted (operator cancel).
var validSessionTransitions = map[SessionState]map[SessionState]bool{
	SessionInit: {
		SessionPlanning:    true,
		SessionDoneFailure: true,
		SessionAborted:     true,
	},
	SessionPlanning: {
		SessionExecuting:   true,
		SessionDoneFailure: true,
		SessionAborted:     true,
	},
	SessionExecuting: {
		SessionVerifying:   true,
		SessionDoneFailure: true,
		SessionAborted:     true,
	},
	SessionVerifying: {
		SessionPlanning:    true, // gate failed, budget remains
		SessionDoneSuccess: true,
		SessionDoneFailure: true,
		SessionAborted:     true,
	},
}

// Connected run transitions: running ↔ waiting, running ↔ stale, and any
// live state may reach a terminal status.
var validRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunRunning: {
		RunWaiting:   true,
		RunStale:     true,
		RunCompleted: true,
		RunFailed:    true,
	},
	RunWaiting: {
		RunRunning:   true,
		RunStale:     true,
		RunCompleted: true,
		RunFailed:    true,
	},
	RunStale: {
		RunRunning:   true, // heartbeat revives
		RunCompleted: true,
		RunFailed:    true,
	},
}

func IsTerminalSessionState(s SessionState) bool {
	return terminalSessionStates[s]
}

func IsTerminalRunStatus(s RunStatus) bool {
	return terminalRunStatuses[s]
}

func ValidateSessionTransition(from, to SessionState) error {
	if validSessionTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid session transition: %s -> %s", from, to)
}

func ValidateRunTransition(from, to RunStatus) error {
	if validRunTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid run transition: %s -> %s", from, to)
}

// PhaseForState maps a controller state to the safety phase enforced while
// in it. Planning and verifying are read-only; only executing grants writes.
func PhaseForState(s SessionState) Phase {
	if s == SessionExecuting {
		return PhaseExecute
	}
	return PhasePlan
}
