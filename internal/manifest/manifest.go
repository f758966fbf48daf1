// Package manifest derives the inspectable summary of a session from its
// journal. The manifest is never hand-edited: it is always reconstructable
// by folding the event sequence from the start.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"loopsmith/internal/atomicio"
	"loopsmith/internal/model"
)

// FileName is the manifest file inside a session directory.
const FileName = "manifest.yaml"

// WorkflowInfo identifies the workflow a session targeted.
type WorkflowInfo struct {
	ID string `yaml:"id" json:"id"`
}

// RunInfo summarizes the session itself.
type RunInfo struct {
	SessionID   string             `yaml:"session_id" json:"session_id"`
	State       model.SessionState `yaml:"state" json:"state"`
	Iterations  int                `yaml:"iterations" json:"iterations"`
	StartedAt   *string            `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt     *string            `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	ResumedFrom string             `yaml:"resumed_from,omitempty" json:"resumed_from,omitempty"`
	Reason      string             `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Manifest is the derived record {workflow, run, steps}.
type Manifest struct {
	Workflow WorkflowInfo       `yaml:"workflow" json:"workflow"`
	Run      RunInfo            `yaml:"run" json:"run"`
	Steps    []model.StepResult `yaml:"steps" json:"steps"`
}

// Step returns the step result with the given name, or nil.
func (m *Manifest) Step(name string) *model.StepResult {
	for i := range m.Steps {
		if m.Steps[i].Name == name {
			return &m.Steps[i]
		}
	}
	return nil
}

// SuccessSteps returns the names of steps that need no re-execution on
// resume: steps recorded as success, plus steps carried forward as skipped.
// A skip record is only ever written for a step that succeeded in the
// session being resumed, so the success survives a chain of resumes.
func (m *Manifest) SuccessSteps() map[string]bool {
	out := make(map[string]bool)
	for _, s := range m.Steps {
		if s.Status == model.StepSuccess || s.Status == model.StepSkipped {
			out[s.Name] = true
		}
	}
	return out
}

// Save writes the manifest atomically into the session directory.
func Save(sessionDir string, m *Manifest) error {
	return atomicio.WriteYAML(filepath.Join(sessionDir, FileName), m)
}

// Load reads a previously saved manifest.
func Load(sessionDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
