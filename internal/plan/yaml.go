package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"inbox-analyzer/internal/domain"
)

// ParsePlan parses YAML content into a job spec.
func ParsePlan(data []byte) (domain.JobSpec, error) {
	var spec domain.JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return domain.JobSpec{}, fmt.Errorf("parse worker plan: %w", err)
	}
	return spec, nil
}

// LoadPlan reads a YAML worker plan from disk. A plan without an explicit
// working directory runs in the plan file's own directory.
func LoadPlan(path string) (domain.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.JobSpec{}, fmt.Errorf("read worker plan: %w", err)
	}

	spec, err := ParsePlan(data)
	if err != nil {
		return domain.JobSpec{}, err
	}

	if spec.WorkingDir == "" {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return domain.JobSpec{}, fmt.Errorf("resolve plan directory: %w", err)
		}
		spec.WorkingDir = dir
	}
	return spec, nil
}
