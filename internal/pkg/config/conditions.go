package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/V4T54L/aggregation-count/internal/domain"
)

type conditionsFile struct {
	Conditions []domain.ConditionDefinition `yaml:"conditions"`
}

// LoadConditions reads condition definitions from a YAML file.
func LoadConditions(path string) ([]domain.ConditionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conditions file %s: %w", path, err)
	}
	defs, err := ParseConditions(data)
	if err != nil {
		return nil, fmt.Errorf("conditions file %s: %w", path, err)
	}
	return defs, nil
}

// ParseConditions decodes condition definitions. Unknown keys are rejected.
// Missing ids and types are left empty for the condition factory to fill in.
func ParseConditions(data []byte) ([]domain.ConditionDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file conditionsFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}

	for i := range file.Conditions {
		if file.Conditions[i].Parameters == nil {
			file.Conditions[i].Parameters = map[string]any{}
		}
	}
	return file.Conditions, nil
}
