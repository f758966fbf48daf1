package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsmith/internal/journal"
	"loopsmith/internal/model"
)

func sampleEvents() []journal.Event {
	budget := model.Budget{MaxIterations: 3, MaxWallTime: 30 * time.Minute}
	evs := []journal.Event{
		journal.SessionStarted("sess_1", "wf_demo", budget, ""),
		journal.PhaseChanged("sess_1", "wf_demo", model.SessionInit, model.SessionPlanning, 1),
		journal.PhaseChanged("sess_1", "wf_demo", model.SessionPlanning, model.SessionExecuting, 1),
		journal.StepStarted("sess_1", "wf_demo", "fetch"),
		journal.StepCompleted("sess_1", "wf_demo", "fetch", 2*time.Second),
		journal.StepStarted("sess_1", "wf_demo", "transform"),
		journal.StepFailed("sess_1", "wf_demo", "transform", time.Second, "schema mismatch"),
		journal.PhaseChanged("sess_1", "wf_demo", model.SessionExecuting, model.SessionVerifying, 1),
		journal.GateEvaluated("sess_1", "wf_demo", "validate", false, "2 errors", 1),
		journal.IterationCompleted("sess_1", "wf_demo", 1),
	}
	now := time.Now().UTC()
	for i := range evs {
		evs[i].Seq = i + 1
		evs[i].Timestamp = now.Add(time.Duration(i) * time.Second)
	}
	return evs
}

func TestReduceBasic(t *testing.T) {
	m, err := Reduce(sampleEvents())
	require.NoError(t, err)

	assert.Equal(t, "wf_demo", m.Workflow.ID)
	assert.Equal(t, "sess_1", m.Run.SessionID)
	assert.Equal(t, 1, m.Run.Iterations)
	require.NotNil(t, m.Run.StartedAt)

	fetch := m.Step("fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, model.StepSuccess, fetch.Status)
	assert.Equal(t, int64(2000), fetch.DurationMs)

	transform := m.Step("transform")
	require.NotNil(t, transform)
	assert.Equal(t, model.StepFailed, transform.Status)
	assert.Equal(t, "schema mismatch", transform.Error)
}

// Reducing the whole sequence in one pass must equal reducing a prefix and
// folding the suffix incrementally, for every split point.
func TestReducePrefixSuffixEquivalence(t *testing.T) {
	evs := sampleEvents()
	full, err := Reduce(evs)
	require.NoError(t, err)

	for split := 1; split < len(evs); split++ {
		partial, err := Reduce(evs[:split])
		require.NoError(t, err, "split %d", split)
		for _, ev := range evs[split:] {
			Apply(partial, ev)
		}
		assert.Equal(t, full, partial, "split %d", split)
	}
}

func TestReduceReplayIdempotent(t *testing.T) {
	evs := sampleEvents()
	a, err := Reduce(evs)
	require.NoError(t, err)
	b, err := Reduce(evs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReduceErrors(t *testing.T) {
	_, err := Reduce(nil)
	assert.ErrorIs(t, err, ErrEmptyJournal)

	_, err = Reduce([]journal.Event{journal.StepStarted("sess_1", "wf", "fetch")})
	assert.ErrorIs(t, err, ErrNoSessionStart)
}

func TestReduceCountsRetries(t *testing.T) {
	budget := model.Budget{MaxIterations: 3, MaxWallTime: time.Minute}
	evs := []journal.Event{
		journal.SessionStarted("sess_1", "wf", budget, ""),
		journal.StepStarted("sess_1", "wf", "transform"),
		journal.StepFailed("sess_1", "wf", "transform", time.Second, "boom"),
		journal.StepStarted("sess_1", "wf", "transform"),
		journal.StepFailed("sess_1", "wf", "transform", time.Second, "boom again"),
		journal.StepStarted("sess_1", "wf", "transform"),
		journal.StepCompleted("sess_1", "wf", "transform", time.Second),
	}
	m, err := Reduce(evs)
	require.NoError(t, err)

	step := m.Step("transform")
	require.NotNil(t, step)
	assert.Equal(t, model.StepSuccess, step.Status)
	assert.Equal(t, 2, step.Retries)
	assert.Empty(t, step.Error)
}

func TestReduceSkipPreservesSuccess(t *testing.T) {
	budget := model.Budget{MaxIterations: 3, MaxWallTime: time.Minute}
	evs := []journal.Event{
		journal.SessionStarted("sess_1", "wf", budget, "sess_0"),
		journal.StepStarted("sess_1", "wf", "fetch"),
		journal.StepCompleted("sess_1", "wf", "fetch", time.Second),
		journal.StepSkipped("sess_1", "wf", "fetch", "succeeded in resumed session"),
		journal.StepSkipped("sess_1", "wf", "cleanup", "not reached"),
	}
	m, err := Reduce(evs)
	require.NoError(t, err)

	assert.Equal(t, "sess_0", m.Run.ResumedFrom)
	assert.Equal(t, model.StepSuccess, m.Step("fetch").Status)
	assert.Equal(t, model.StepSkipped, m.Step("cleanup").Status)
}

// The resume contract: a prior journal showing fetch succeeded and
// transform failed yields a skip-set containing only fetch.
func TestSuccessStepsForResume(t *testing.T) {
	m, err := Reduce(sampleEvents())
	require.NoError(t, err)

	skip := m.SuccessSteps()
	assert.True(t, skip["fetch"])
	assert.False(t, skip["transform"])
	assert.Len(t, skip, 1)
}

// Resuming a session that was itself resumed: a step present only as a
// skip record still came from a success, so it must stay in the skip-set
// instead of being re-executed on the next resume.
func TestSuccessStepsSurviveChainedResume(t *testing.T) {
	budget := model.Budget{MaxIterations: 3, MaxWallTime: time.Minute}
	evs := []journal.Event{
		journal.SessionStarted("sess_b", "wf", budget, "sess_a"),
		journal.StepSkipped("sess_b", "wf", "fetch", "succeeded in resumed session"),
		journal.StepStarted("sess_b", "wf", "transform"),
		journal.StepCompleted("sess_b", "wf", "transform", time.Second),
	}
	m, err := Reduce(evs)
	require.NoError(t, err)

	skip := m.SuccessSteps()
	assert.True(t, skip["fetch"], "skip carried over from the first resume")
	assert.True(t, skip["transform"])
	assert.Len(t, skip, 2)
}

func TestFromJournalTornTail(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)
	evs := []journal.Event{
		journal.SessionStarted("sess_1", "wf", model.Budget{MaxIterations: 1, MaxWallTime: time.Minute}, ""),
		journal.StepStarted("sess_1", "wf", "fetch"),
		journal.StepCompleted("sess_1", "wf", "fetch", time.Second),
	}
	for i := range evs {
		require.NoError(t, j.Append(&evs[i]))
	}
	j.Close()

	f, err := os.OpenFile(filepath.Join(dir, journal.FileName), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_type":"step_fail`)
	require.NoError(t, err)
	f.Close()

	m, err := FromJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, m.Step("fetch").Status)
}

func TestFromJournalMissing(t *testing.T) {
	_, err := FromJournal(t.TempDir())
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Reduce(sampleEvents())
	require.NoError(t, err)

	require.NoError(t, Save(dir, m))
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}
