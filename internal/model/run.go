package model

import "time"

// WaitEventType says what a waiting run is blocked on.
type WaitEventType string

const (
	WaitApproval WaitEventType = "approval"
	WaitWebhook  WaitEventType = "webhook"
)

// WaitingState describes what a connected run is blocked on and until when.
type WaitingState struct {
	EventType WaitEventType  `json:"event_type"`
	StepName  string         `json:"step_name"`
	Prompt    string         `json:"prompt,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	TimeoutAt time.Time      `json:"timeout_at"`
}

// ConnectedRun is a workflow execution that reports its lifecycle back to
// the coordinating daemon, so approvals and webhooks can be delivered to it.
type ConnectedRun struct {
	RunID         string        `json:"run_id"`
	WorkflowID    string        `json:"workflow_id"`
	PID           int           `json:"pid"`
	Status        RunStatus     `json:"status"`
	RegisteredAt  time.Time     `json:"registered_at"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	WaitingFor    *WaitingState `json:"waiting_for,omitempty"`
}

// RunEvent is one mailbox entry for a connected run (an approval decision,
// a webhook payload). Delivery is at-least-once: entries accumulate until
// the run pops them.
type RunEvent struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
