package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pentimento/internal/model"
)

// Scenario defines one conformance scenario: a sequence of write batches
// followed by point-in-time probes over the resulting history.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Collection is the collection written to. Defaults to "records".
	Collection string `yaml:"collection,omitempty"`

	// Schema is an optional inline CUE schema; when set, every document
	// in every step is validated against it before the write.
	Schema string `yaml:"schema,omitempty"`

	// Steps are the write batches, executed in order. Each batch gets
	// the next clock tick as its timestamp.
	Steps []WriteStep `yaml:"steps"`

	// Probes reconstruct records at past cutoffs after all steps ran.
	Probes []Probe `yaml:"probes,omitempty"`
}

// WriteStep is one batch write.
type WriteStep struct {
	// Strategy is one of insert, update, replace, update-with-history.
	Strategy string `yaml:"strategy"`

	// Docs are the documents in the batch.
	Docs []map[string]any `yaml:"docs"`
}

// Probe asks for one record's state as of a past batch's timestamp.
type Probe struct {
	// Record is the id to reconstruct.
	Record string `yaml:"record"`

	// AfterStep is the 1-based step index whose timestamp is the cutoff.
	AfterStep int `yaml:"after_step"`

	// Missing asserts the record did not exist at the cutoff.
	Missing bool `yaml:"missing,omitempty"`

	// Expect contains expected field values. Subset match - only the
	// listed fields are validated. Ignored when Missing is set.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo like "probe:" fails instead of silently validating
// nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// Validate checks structural requirements before execution.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if _, err := model.ParseStrategy(step.Strategy); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if len(step.Docs) == 0 {
			return fmt.Errorf("step %d: docs must not be empty", i+1)
		}
	}
	for i, probe := range s.Probes {
		if probe.Record == "" {
			return fmt.Errorf("probe %d: record is required", i+1)
		}
		if probe.AfterStep < 1 || probe.AfterStep > len(s.Steps) {
			return fmt.Errorf("probe %d: after_step %d out of range 1..%d",
				i+1, probe.AfterStep, len(s.Steps))
		}
		if probe.Missing && len(probe.Expect) > 0 {
			return fmt.Errorf("probe %d: missing and expect are mutually exclusive", i+1)
		}
	}
	return nil
}
