package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"loopsmith/internal/atomicio"
)

const (
	runManifestFile = "manifest.yaml"
	outputLogFile   = "output.log"
)

// RunManifest is the durable record of one script run, written next to its
// output log for inspection tooling.
type RunManifest struct {
	WorkflowID string   `yaml:"workflow_id"`
	ExitCode   int      `yaml:"exit_code"`
	DurationMs int64    `yaml:"duration_ms"`
	Args       []string `yaml:"args,omitempty"`
	Timestamp  string   `yaml:"timestamp"`
	TimedOut   bool     `yaml:"timed_out,omitempty"`
}

// Storage persists run outcomes. CreateRunDir must return a collision-free,
// lexically sortable location.
type Storage interface {
	CreateRunDir(workflowID string) (string, error)
	SaveManifest(dir string, m *RunManifest) error
	SaveOutputLog(dir string, stdout, stderr string) error
}

// FSStorage lays runs out as <root>/<workflow>/<timestamp>_<hex4>/.
// The timestamp prefix sorts runs chronologically; the random suffix keeps
// two runs in the same second from colliding.
type FSStorage struct {
	root string
}

func NewFSStorage(root string) *FSStorage {
	return &FSStorage{root: root}
}

func (s *FSStorage) CreateRunDir(workflowID string) (string, error) {
	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate run dir suffix: %w", err)
	}
	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), hex.EncodeToString(suffix))
	dir := filepath.Join(s.root, workflowID, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

func (s *FSStorage) SaveManifest(dir string, m *RunManifest) error {
	if err := atomicio.WriteYAML(filepath.Join(dir, runManifestFile), m); err != nil {
		return fmt.Errorf("save run manifest: %w", err)
	}
	return nil
}

func (s *FSStorage) SaveOutputLog(dir string, stdout, stderr string) error {
	content := fmt.Sprintf("--- stdout ---\n%s\n--- stderr ---\n%s\n", stdout, stderr)
	if err := atomicio.WriteRaw(filepath.Join(dir, outputLogFile), []byte(content)); err != nil {
		return fmt.Errorf("save output log: %w", err)
	}
	return nil
}

// LoadManifest reads a run manifest back. Field-for-field round-trip with
// SaveManifest is part of the storage contract.
func LoadManifest(dir string) (*RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, runManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read run manifest: %w", err)
	}
	var m RunManifest
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal run manifest: %w", err)
	}
	return &m, nil
}
