package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendSeed describes a backend type registered at startup
type BackendSeed struct {
	TypeID      string `yaml:"type_id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	BaseURL     string `yaml:"base_url"`
	AuthToken   string `yaml:"auth_token"`
	Display     *struct {
		Width    int `yaml:"width"`
		Height   int `yaml:"height"`
		BitDepth int `yaml:"bit_depth"`
	} `yaml:"display"`
	Inactive bool `yaml:"inactive"`
}

type seedFile struct {
	BackendTypes []BackendSeed `yaml:"backend_types"`
}

// LoadBackendSeeds reads backend type definitions from a YAML file.
// Auth tokens may reference environment variables as ${VAR}.
func LoadBackendSeeds(path string) ([]BackendSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.BackendTypes))
	for i := range f.BackendTypes {
		s := &f.BackendTypes[i]
		if s.TypeID == "" || s.BaseURL == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("backend_types[%d]: type_id and base_url are required", i)}
		}
		if seen[s.TypeID] {
			return nil, &ConfigError{Message: fmt.Sprintf("backend_types[%d]: duplicate type_id %q", i, s.TypeID)}
		}
		seen[s.TypeID] = true
		if s.Name == "" {
			s.Name = s.TypeID
		}
		s.AuthToken = os.ExpandEnv(s.AuthToken)
	}

	return f.BackendTypes, nil
}
