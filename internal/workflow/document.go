package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a parsed workflow definition. Step names are the unit of
// journaling and resume, so they must be unique within a workflow.
type Document struct {
	ID          string    `yaml:"id"`
	Description string    `yaml:"description,omitempty"`
	Steps       []DocStep `yaml:"steps"`
}

// DocStep is one step of a workflow definition.
type DocStep struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// Parse decodes a workflow document and validates its shape.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", doc.ID)
	}
	seen := make(map[string]bool, len(doc.Steps))
	for i, step := range doc.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("workflow %q: step %d has no name", doc.ID, i)
		}
		if step.Command == "" {
			return nil, fmt.Errorf("workflow %q: step %q has no command", doc.ID, step.Name)
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("workflow %q: duplicate step name %q", doc.ID, step.Name)
		}
		seen[step.Name] = true
	}
	return &doc, nil
}

// LoadDocument reads and parses a workflow file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return Parse(data)
}
