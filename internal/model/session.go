// Package model defines the data structures shared across the build loop:
// sessions, step results, connected runs, and their status machines.
package model

import "time"

// Budget bounds one build session. Both ceilings are hard: reaching either
// transitions the session to done_failure regardless of gate state.
type Budget struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxWallTime   time.Duration `yaml:"max_wall_time"`
}

// BuildSession is one end-to-end invocation of the plan-execute-verify loop
// for a single workflow target. Owned exclusively by the controller.
type BuildSession struct {
	ID          string       `yaml:"session_id"`
	WorkflowID  string       `yaml:"workflow_id"`
	Phase       Phase        `yaml:"phase"`
	State       SessionState `yaml:"state"`
	Iteration   int          `yaml:"iteration"`
	StartedAt   time.Time    `yaml:"started_at"`
	Budget      Budget       `yaml:"budget"`
	ResumedFrom string       `yaml:"resumed_from,omitempty"`
}

// StepResult records the outcome of one plan step. Timestamps are RFC3339
// strings so the manifest file stays greppable and stable across rewrites.
type StepResult struct {
	Name       string     `yaml:"name" json:"name"`
	Status     StepStatus `yaml:"status" json:"status"`
	StartedAt  *string    `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt    *string    `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	DurationMs int64      `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	Retries    int        `yaml:"retries,omitempty" json:"retries,omitempty"`
	Error      string     `yaml:"error,omitempty" json:"error,omitempty"`
}

// GateResult is the outcome of one verification gate within a verify cycle.
type GateResult struct {
	Gate   string `yaml:"gate" json:"gate"`
	Passed bool   `yaml:"passed" json:"passed"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ToolCallRequest is a single tool invocation requested by the planning or
// execution agent. Arguments are schemaless; the enforcer only inspects the
// command string for shell tools.
type ToolCallRequest struct {
	Tool string         `json:"tool_name"`
	Args map[string]any `json:"arguments,omitempty"`
}

// Timestamp formats t the way all persisted records expect.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// TimestampPtr is Timestamp for optional fields.
func TimestampPtr(t time.Time) *string {
	s := Timestamp(t)
	return &s
}
