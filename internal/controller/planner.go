// Package controller drives a build session through plan, execute, and
// verify phases until the gates pass or the budget runs out. Every phase
// transition, tool-call decision, and gate result is journaled so an
// interrupted session can be resumed.
package controller

import (
	"context"

	"loopsmith/internal/model"
)

// Plan is the output of one PLANNING phase: an ordered list of steps the
// EXECUTING phase will perform.
type Plan struct {
	Summary string
	Steps   []PlannedStep
}

// PlannedStep binds a stable step name to the tool call that performs it.
// Names are the unit of resume: a step recorded as success in a prior
// session's journal is skipped when that session is resumed.
type PlannedStep struct {
	Name string
	Tool model.ToolCallRequest
}

// PlanRequest carries everything a planner needs for one planning pass.
type PlanRequest struct {
	WorkflowID   string
	WorkflowPath string
	Iteration    int

	// GateFeedback holds the failing gate output from the previous verify
	// cycle, empty on the first iteration.
	GateFeedback []model.GateResult

	// CompletedSteps are step names already recorded as success; plans
	// should still name them so skip records land in the journal.
	CompletedSteps map[string]bool
}

// ToolResult answers one tool call. Denied is set when the call was
// rejected by phase policy rather than attempted and failed.
type ToolResult struct {
	OK     bool
	Denied bool
	Output string
	Error  string
}

// ToolCall is one tool-call request in flight from the planner. The
// controller decides it, executes it if allowed, and sends exactly one
// ToolResult on Reply.
type ToolCall struct {
	Request model.ToolCallRequest
	Reply   chan ToolResult
}

// Planner is the LLM planning capability. Plan analyzes the workflow and
// produces the next plan; tool calls made while planning are sent on calls
// and answered through their Reply channel. The controller owns calls and
// keeps draining it until Plan returns.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest, calls chan<- ToolCall) (*Plan, error)
}

// ToolExecutor is the tool execution capability used for allowed calls in
// both phases. Failures come back as structured results, not errors.
type ToolExecutor interface {
	Execute(ctx context.Context, req model.ToolCallRequest) ToolResult
}

// Call sends one tool call on calls and waits for its reply. Planner
// implementations use it to keep the request/reply pairing right.
func Call(ctx context.Context, calls chan<- ToolCall, req model.ToolCallRequest) (ToolResult, error) {
	call := ToolCall{Request: req, Reply: make(chan ToolResult, 1)}
	select {
	case calls <- call:
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}
	select {
	case res := <-call.Reply:
		return res, nil
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}
}
