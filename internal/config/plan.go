package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nick-dorsch/relay/pkg/models"
)

// Plan is the content of a task file passed to `relay init`. YAML and JSON
// are both accepted.
//
//	goal: ship the parser
//	tasks:
//	  - id: lexer
//	    priority: 5
//	  - id: parser
//	    dependencies: [lexer]
type Plan struct {
	Goal  string            `yaml:"goal"`
	Tasks []models.TaskSpec `yaml:"tasks"`
}

// LoadPlan reads and parses a task file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	return &plan, nil
}
