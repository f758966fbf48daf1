package controller

import (
	"context"
	"fmt"

	"loopsmith/internal/model"
	"loopsmith/internal/workflow"
)

// WorkflowPlanner plans directly from the workflow document: each document
// step becomes one shell tool call. It reads the document through the tool
// surface so the read itself goes through phase policy like any other call.
// LLM-backed planners implement the same Planner interface; this one is the
// deterministic default the CLI wires.
type WorkflowPlanner struct{}

func NewWorkflowPlanner() *WorkflowPlanner {
	return &WorkflowPlanner{}
}

func (p *WorkflowPlanner) Plan(ctx context.Context, req PlanRequest, calls chan<- ToolCall) (*Plan, error) {
	res, err := Call(ctx, calls, model.ToolCallRequest{
		Tool: "read_file",
		Args: map[string]any{"path": req.WorkflowPath},
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("read workflow %s: %s", req.WorkflowPath, res.Error)
	}

	doc, err := workflow.Parse([]byte(res.Output))
	if err != nil {
		return nil, err
	}

	plan := &Plan{Summary: doc.Description}
	for _, step := range doc.Steps {
		plan.Steps = append(plan.Steps, PlannedStep{
			Name: step.Name,
			Tool: model.ToolCallRequest{
				Tool: "shell",
				Args: map[string]any{"command": step.Command},
			},
		})
	}
	return plan, nil
}
