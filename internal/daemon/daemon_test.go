package daemon

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsmith/internal/config"
	"loopsmith/internal/model"
	"loopsmith/internal/uds"
)

func testDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "loopsmith.yaml"))
	require.NoError(t, err)
	return newDaemon(t.TempDir(), cfg, io.Discard, nil)
}

func callHandler(t *testing.T, h func(json.RawMessage) *uds.Response, params any) *uds.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return h(raw)
}

func TestHandleRegister(t *testing.T) {
	d := testDaemon(t)

	resp := callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 100})
	require.True(t, resp.OK, "error: %+v", resp.Error)

	var run model.ConnectedRun
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.Equal(t, "run_1", run.RunID)
	assert.Equal(t, model.RunRunning, run.Status)
}

func TestHandleRegisterGeneratesID(t *testing.T) {
	d := testDaemon(t)

	resp := callHandler(t, d.handleRegister, RegisterParams{WorkflowID: "wf", PID: 1})
	require.True(t, resp.OK)

	var run model.ConnectedRun
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.True(t, model.ValidateID(run.RunID), "generated id %q", run.RunID)
}

func TestHandleRegisterValidation(t *testing.T) {
	d := testDaemon(t)
	resp := callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1"})
	require.False(t, resp.OK)
	assert.Equal(t, uds.ErrCodeValidation, resp.Error.Code)
}

func TestHandleHeartbeatUnknownRun(t *testing.T) {
	d := testDaemon(t)
	resp := callHandler(t, d.handleHeartbeat, HeartbeatParams{RunID: "run_missing"})
	require.False(t, resp.OK)
	assert.Equal(t, uds.ErrCodeNotFound, resp.Error.Code)
}

func TestWaitResumeCompleteFlow(t *testing.T) {
	d := testDaemon(t)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)

	resp := callHandler(t, d.handleWait, WaitParams{
		RunID:          "run_1",
		EventType:      "approval",
		StepName:       "approve_deploy",
		Prompt:         "Ship it?",
		TimeoutSeconds: 60,
	})
	require.True(t, resp.OK, "error: %+v", resp.Error)

	run, ok := d.registry.Get("run_1")
	require.True(t, ok)
	assert.Equal(t, model.RunWaiting, run.Status)

	require.True(t, callHandler(t, d.handleResume, HeartbeatParams{RunID: "run_1"}).OK)
	run, _ = d.registry.Get("run_1")
	assert.Equal(t, model.RunRunning, run.Status)
	assert.Nil(t, run.WaitingFor)

	require.True(t, callHandler(t, d.handleComplete, CompleteParams{RunID: "run_1", Status: "completed"}).OK)
	run, _ = d.registry.Get("run_1")
	assert.Equal(t, model.RunCompleted, run.Status)
}

func TestHandleWaitValidation(t *testing.T) {
	d := testDaemon(t)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)

	bad := []WaitParams{
		{RunID: "run_1", EventType: "carrier_pigeon", StepName: "s", TimeoutSeconds: 5},
		{RunID: "run_1", EventType: "approval", TimeoutSeconds: 5},
		{RunID: "run_1", EventType: "approval", StepName: "s"},
		{EventType: "approval", StepName: "s", TimeoutSeconds: 5},
	}
	for i, p := range bad {
		resp := callHandler(t, d.handleWait, p)
		require.False(t, resp.OK, "case %d", i)
		assert.Equal(t, uds.ErrCodeValidation, resp.Error.Code, "case %d", i)
	}
}

func TestHandleCompleteRejectsNonTerminal(t *testing.T) {
	d := testDaemon(t)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)

	resp := callHandler(t, d.handleComplete, CompleteParams{RunID: "run_1", Status: "waiting"})
	require.False(t, resp.OK)
	assert.Equal(t, uds.ErrCodeValidation, resp.Error.Code)
}

func TestEventPushPop(t *testing.T) {
	d := testDaemon(t)

	resp := callHandler(t, d.handlePushEvent, PushEventParams{RunID: "run_1", Type: "approval"})
	require.False(t, resp.OK, "push before registration must fail")
	assert.Equal(t, uds.ErrCodeNotFound, resp.Error.Code)

	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)
	require.True(t, callHandler(t, d.handlePushEvent, PushEventParams{
		RunID:   "run_1",
		Type:    "approval",
		Payload: map[string]any{"decision": "yes"},
	}).OK)

	resp = callHandler(t, d.handlePopEvents, HeartbeatParams{RunID: "run_1"})
	require.True(t, resp.OK)
	var result PopEventsResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.Len(t, result.Events, 1)
	assert.Equal(t, "approval", result.Events[0].Type)

	resp = callHandler(t, d.handlePopEvents, HeartbeatParams{RunID: "run_1"})
	require.True(t, resp.OK)
	result = PopEventsResult{}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Empty(t, result.Events, "second pop drains nothing")
}

func TestHandleCancel(t *testing.T) {
	d := testDaemon(t)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)

	require.True(t, callHandler(t, d.handleCancel, HeartbeatParams{RunID: "run_1"}).OK)
	run, _ := d.registry.Get("run_1")
	assert.Equal(t, model.RunFailed, run.Status)

	resp := callHandler(t, d.handleCancel, HeartbeatParams{RunID: "run_1"})
	assert.False(t, resp.OK, "cancel of terminal run fails")
}

func TestHandleList(t *testing.T) {
	d := testDaemon(t)

	resp := d.handleList(nil)
	require.True(t, resp.OK)
	var result ListResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Empty(t, result.Runs)

	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_2", WorkflowID: "wf", PID: 2}).OK)
	require.True(t, callHandler(t, d.handleWait, WaitParams{
		RunID: "run_2", EventType: "webhook", StepName: "hook", TimeoutSeconds: 30,
	}).OK)

	resp = d.handleList(nil)
	require.True(t, resp.OK)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Len(t, result.Runs, 2)

	resp = d.handleListWaiting(nil)
	require.True(t, resp.OK)
	result = ListResult{}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "run_2", result.Runs[0].RunID)
}

func TestUnregister(t *testing.T) {
	d := testDaemon(t)
	require.True(t, callHandler(t, d.handleRegister, RegisterParams{RunID: "run_1", WorkflowID: "wf", PID: 1}).OK)
	require.True(t, callHandler(t, d.handleUnregister, HeartbeatParams{RunID: "run_1"}).OK)

	_, ok := d.registry.Get("run_1")
	assert.False(t, ok)
}
