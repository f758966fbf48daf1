package model

import "testing"

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		ok       bool
	}{
		{SessionInit, SessionPlanning, true},
		{SessionPlanning, SessionExecuting, true},
		{SessionExecuting, SessionVerifying, true},
		{SessionVerifying, SessionPlanning, true},
		{SessionVerifying, SessionDoneSuccess, true},
		{SessionVerifying, SessionDoneFailure, true},
		{SessionPlanning, SessionAborted, true},
		{SessionExecuting, SessionDoneFailure, true},
		{SessionInit, SessionExecuting, false},
		{SessionPlanning, SessionVerifying, false},
		{SessionPlanning, SessionDoneSuccess, false},
		{SessionDoneSuccess, SessionPlanning, false},
		{SessionAborted, SessionPlanning, false},
	}
	for _, tc := range tests {
		err := ValidateSessionTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected error", tc.from, tc.to)
		}
	}
}

func TestValidateRunTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunRunning, RunWaiting, true},
		{RunWaiting, RunRunning, true},
		{RunRunning, RunStale, true},
		{RunStale, RunRunning, true},
		{RunRunning, RunCompleted, true},
		{RunWaiting, RunFailed, true},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunWaiting, false},
	}
	for _, tc := range tests {
		err := ValidateRunTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected error", tc.from, tc.to)
		}
	}
}

func TestPhaseForState(t *testing.T) {
	if got := PhaseForState(SessionExecuting); got != PhaseExecute {
		t.Errorf("executing: got %s, want %s", got, PhaseExecute)
	}
	for _, s := range []SessionState{SessionInit, SessionPlanning, SessionVerifying} {
		if got := PhaseForState(s); got != PhasePlan {
			t.Errorf("%s: got %s, want %s", s, got, PhasePlan)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []SessionState{SessionDoneSuccess, SessionDoneFailure, SessionAborted} {
		if !IsTerminalSessionState(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionState{SessionInit, SessionPlanning, SessionExecuting, SessionVerifying} {
		if IsTerminalSessionState(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !IsTerminalRunStatus(RunCompleted) || !IsTerminalRunStatus(RunFailed) {
		t.Error("completed and failed should be terminal run statuses")
	}
	if IsTerminalRunStatus(RunStale) {
		t.Error("stale should not be terminal")
	}
}
