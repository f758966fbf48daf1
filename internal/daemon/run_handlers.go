package daemon

import (
	"encoding/json"
	"time"

	"loopsmith/internal/model"
	"loopsmith/internal/uds"
)

// RegisterParams registers a workflow run with the daemon.
type RegisterParams struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	PID        int    `json:"pid"`
}

// WaitParams parks a run on an external event.
type WaitParams struct {
	RunID          string         `json:"run_id"`
	EventType      string         `json:"event_type"`
	StepName       string         `json:"step_name"`
	Prompt         string         `json:"prompt,omitempty"`
	Options        []string       `json:"options,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

type HeartbeatParams struct {
	RunID string `json:"run_id"`
}

type CompleteParams struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type PushEventParams struct {
	RunID   string         `json:"run_id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type PopEventsResult struct {
	Events []model.RunEvent `json:"events"`
}

type ListResult struct {
	Runs []model.ConnectedRun `json:"runs"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(json.RawMessage) *uds.Response {
		return uds.OK(map[string]string{"status": "ok"})
	})
	d.server.Handle("shutdown", func(json.RawMessage) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested over socket")
		go d.Shutdown()
		return uds.OK(map[string]string{"status": "shutting_down"})
	})
	d.server.Handle("run.register", d.handleRegister)
	d.server.Handle("run.heartbeat", d.handleHeartbeat)
	d.server.Handle("run.wait", d.handleWait)
	d.server.Handle("run.resume", d.handleResume)
	d.server.Handle("run.complete", d.handleComplete)
	d.server.Handle("run.event.push", d.handlePushEvent)
	d.server.Handle("run.event.pop", d.handlePopEvents)
	d.server.Handle("run.cancel", d.handleCancel)
	d.server.Handle("run.unregister", d.handleUnregister)
	d.server.Handle("run.list", d.handleList)
	d.server.Handle("run.list_waiting", d.handleListWaiting)
}

func (d *Daemon) handleRegister(params json.RawMessage) *uds.Response {
	var p RegisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.WorkflowID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "workflow_id is required")
	}
	if p.RunID == "" {
		id, err := model.GenerateID(model.IDTypeRun)
		if err != nil {
			return uds.Errorf(uds.ErrCodeInternal, "generate run id: %v", err)
		}
		p.RunID = id
	}

	run := d.registry.Register(p.RunID, p.WorkflowID, p.PID)
	d.log(LogLevelInfo, "run registered run_id=%s workflow=%s pid=%d", run.RunID, run.WorkflowID, run.PID)
	return uds.OK(run)
}

func (d *Daemon) handleHeartbeat(params json.RawMessage) *uds.Response {
	var p HeartbeatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	if !d.registry.Heartbeat(p.RunID) {
		return uds.Errorf(uds.ErrCodeNotFound, "unknown run %q", p.RunID)
	}
	return uds.OK(nil)
}

func (d *Daemon) handleWait(params json.RawMessage) *uds.Response {
	var p WaitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	et := model.WaitEventType(p.EventType)
	if et != model.WaitApproval && et != model.WaitWebhook {
		return uds.Errorf(uds.ErrCodeValidation, "event_type must be approval or webhook, got %q", p.EventType)
	}
	if p.StepName == "" {
		return uds.Errorf(uds.ErrCodeValidation, "step_name is required")
	}
	if p.TimeoutSeconds <= 0 {
		return uds.Errorf(uds.ErrCodeValidation, "timeout_seconds must be positive")
	}

	ws := model.WaitingState{
		EventType: et,
		StepName:  p.StepName,
		Prompt:    p.Prompt,
		Options:   p.Options,
		Context:   p.Context,
	}
	if !d.registry.MarkWaiting(p.RunID, ws, time.Duration(p.TimeoutSeconds)*time.Second) {
		return uds.Errorf(uds.ErrCodeNotFound, "run %q not found or not pausable", p.RunID)
	}
	d.log(LogLevelInfo, "run waiting run_id=%s event=%s step=%s timeout=%ds",
		p.RunID, p.EventType, p.StepName, p.TimeoutSeconds)
	return uds.OK(nil)
}

func (d *Daemon) handleResume(params json.RawMessage) *uds.Response {
	var p HeartbeatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	if !d.registry.Resume(p.RunID) {
		return uds.Errorf(uds.ErrCodeNotFound, "run %q is not waiting", p.RunID)
	}
	d.log(LogLevelInfo, "run resumed run_id=%s", p.RunID)
	return uds.OK(nil)
}

func (d *Daemon) handleComplete(params json.RawMessage) *uds.Response {
	var p CompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	status := model.RunStatus(p.Status)
	if !model.IsTerminalRunStatus(status) {
		return uds.Errorf(uds.ErrCodeValidation, "status must be completed or failed, got %q", p.Status)
	}
	if !d.registry.Complete(p.RunID, status) {
		return uds.Errorf(uds.ErrCodeNotFound, "run %q not found or already terminal", p.RunID)
	}
	d.log(LogLevelInfo, "run completed run_id=%s status=%s", p.RunID, p.Status)
	return uds.OK(nil)
}

func (d *Daemon) handlePushEvent(params json.RawMessage) *uds.Response {
	var p PushEventParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	if p.Type == "" {
		return uds.Errorf(uds.ErrCodeValidation, "type is required")
	}
	ev := model.RunEvent{Type: p.Type, Payload: p.Payload}
	if !d.registry.PushEvent(p.RunID, ev) {
		return uds.Errorf(uds.ErrCodeNotFound, "unknown run %q", p.RunID)
	}
	return uds.OK(nil)
}

func (d *Daemon) handlePopEvents(params json.RawMessage) *uds.Response {
	var p HeartbeatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	if _, ok := d.registry.Get(p.RunID); !ok {
		return uds.Errorf(uds.ErrCodeNotFound, "unknown run %q", p.RunID)
	}
	events := d.registry.PopEvents(p.RunID)
	if events == nil {
		events = []model.RunEvent{}
	}
	return uds.OK(PopEventsResult{Events: events})
}

func (d *Daemon) handleCancel(params json.RawMessage) *uds.Response {
	var p HeartbeatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	if !d.registry.Complete(p.RunID, model.RunFailed) {
		return uds.Errorf(uds.ErrCodeNotFound, "run %q not found or already terminal", p.RunID)
	}
	d.log(LogLevelWarn, "run cancelled run_id=%s", p.RunID)
	return uds.OK(nil)
}

func (d *Daemon) handleUnregister(params json.RawMessage) *uds.Response {
	var p HeartbeatParams
	if err := json.Unmarshal(params, &p); err != nil {
		return uds.Errorf(uds.ErrCodeValidation, "unmarshal params: %v", err)
	}
	if p.RunID == "" {
		return uds.Errorf(uds.ErrCodeValidation, "run_id is required")
	}
	d.registry.Unregister(p.RunID)
	d.log(LogLevelInfo, "run unregistered run_id=%s", p.RunID)
	return uds.OK(nil)
}

func (d *Daemon) handleList(json.RawMessage) *uds.Response {
	runs := d.registry.List()
	if runs == nil {
		runs = []model.ConnectedRun{}
	}
	return uds.OK(ListResult{Runs: runs})
}

func (d *Daemon) handleListWaiting(json.RawMessage) *uds.Response {
	runs := d.registry.ListWaiting()
	if runs == nil {
		runs = []model.ConnectedRun{}
	}
	return uds.OK(ListResult{Runs: runs})
}
