package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the optional YAML security-policy file. It extends the built-in
// read-intent procedure prefixes and tunes the read-only result caps; it can
// never loosen the gate itself.
type Policy struct {
	// ReadProcedurePrefixes are extra case-insensitive name prefixes that
	// mark a stored procedure as read-intent.
	ReadProcedurePrefixes []string `yaml:"read_procedure_prefixes"`
	// PreviewRowCap bounds read_data row counts (default 100).
	PreviewRowCap int `yaml:"preview_row_cap"`
	// SearchResultCap bounds search_objects results (default 200).
	SearchResultCap int `yaml:"search_result_cap"`
}

// LoadPolicy reads the policy file at path. An empty path or missing file
// yields the zero policy.
func LoadPolicy(path string) (*Policy, error) {
	policy := &Policy{}
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, fmt.Errorf("read security policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse security policy %s: %w", path, err)
	}
	if policy.PreviewRowCap < 0 || policy.SearchResultCap < 0 {
		return nil, fmt.Errorf("security policy %s: caps must be non-negative", path)
	}
	return policy, nil
}
