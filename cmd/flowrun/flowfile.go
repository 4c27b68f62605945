package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"flow-runner/internal/models"
	"flow-runner/internal/validator"

	"gopkg.in/yaml.v3"
)

const maxFileHeaders = 50

// variablesFlag collects repeated -var name=value flags.
type variablesFlag map[string]string

func (v variablesFlag) String() string {
	pairs := make([]string, 0, len(v))
	for name, value := range v {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, ",")
}

func (v variablesFlag) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", raw)
	}
	v[name] = value
	return nil
}

// loadFlowFile reads a flow from YAML. JSON files parse as well since JSON
// is valid YAML. Blocks without an id get one from their position.
func loadFlowFile(path string) (*models.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return parseFlow(data)
}

func parseFlow(data []byte) (*models.Flow, error) {
	var f models.Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse flow file: %w", err)
	}
	if len(f.Blocks) == 0 {
		return nil, errors.New("flow has no blocks")
	}

	for i := range f.Blocks {
		block := &f.Blocks[i]
		if block.ID == "" {
			block.ID = fmt.Sprintf("block-%d", i+1)
		}
		if block.Name == "" {
			block.Name = block.ID
		}
		if block.Method == "" {
			block.Method = "GET"
		}
	}
	if f.Name == "" {
		f.Name = "flow"
	}

	if err := validator.ValidateFlow(&f, maxFileHeaders); err != nil {
		return nil, err
	}
	return &f, nil
}
