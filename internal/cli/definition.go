package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition — workflow в файле определения.
//
// Файл описывает workflow целиком: имя, граф и параметры выполнения.
// Поддерживаются YAML (.yaml, .yml) и JSON. Граф хранится как произвольная
// структура и валидируется сервером при создании.
type WorkflowDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Environment string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Graph       map[string]any `json:"graph" yaml:"graph"`
}

// LoadWorkflowDefinition читает определение workflow из файла.
// Формат выбирается по расширению: .yaml/.yml — YAML, иначе JSON.
func LoadWorkflowDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	var def WorkflowDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse YAML definition: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON definition: %w", err)
		}
	}

	if def.Name == "" {
		return nil, fmt.Errorf("definition has no name")
	}
	if len(def.Graph) == 0 {
		return nil, fmt.Errorf("definition has no graph")
	}

	return &def, nil
}

// MarshalDefinition сериализует определение workflow для экспорта.
// asYAML=false даёт JSON с отступами.
func MarshalDefinition(def *WorkflowDefinition, asYAML bool) ([]byte, error) {
	if asYAML {
		return yaml.Marshal(def)
	}
	return json.MarshalIndent(def, "", "  ")
}
