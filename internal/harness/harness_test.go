package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestTemperatureHistoryScenario(t *testing.T) {
	scenario := loadTestScenario(t, "temperature_history")
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestDeleteAndRecreateScenario(t *testing.T) {
	scenario := loadTestScenario(t, "delete_and_recreate")
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRunReportsProbeFailures(t *testing.T) {
	scenario := &Scenario{
		Name:       "wrong_expectation",
		Collection: "readings",
		Steps: []WriteStep{
			{Strategy: "update-with-history", Docs: []map[string]any{
				{"_id": "r1", "temp": 20},
			}},
		},
		Probes: []Probe{
			{Record: "r1", AfterStep: 1, Expect: map[string]any{"temp": 99}},
			{Record: "ghost", AfterStep: 1},
		},
	}
	require.NoError(t, scenario.Validate())

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Len(t, result.Failures, 2)
}

func TestRunAppliesInlineSchema(t *testing.T) {
	scenario := &Scenario{
		Name:       "schema_discard",
		Collection: "readings",
		Schema:     "temp: number & <=100\n",
		Steps: []WriteStep{
			{Strategy: "insert", Docs: []map[string]any{
				{"_id": "ok", "temp": 20},
				{"_id": "bad", "temp": 900},
			}},
		},
		Probes: []Probe{
			{Record: "ok", AfterStep: 1, Expect: map[string]any{"temp": 20}},
			{Record: "bad", AfterStep: 1, Missing: true},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, int64(1), result.Batches[0].Inserted)
}

func TestScenarioValidation(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Name: "s",
			Steps: []WriteStep{
				{Strategy: "insert", Docs: []map[string]any{{"_id": "a"}}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})
	t.Run("missing name", func(t *testing.T) {
		s := base()
		s.Name = ""
		assert.Error(t, s.Validate())
	})
	t.Run("no steps", func(t *testing.T) {
		s := base()
		s.Steps = nil
		assert.Error(t, s.Validate())
	})
	t.Run("bad strategy", func(t *testing.T) {
		s := base()
		s.Steps[0].Strategy = "upsert"
		assert.Error(t, s.Validate())
	})
	t.Run("probe out of range", func(t *testing.T) {
		s := base()
		s.Probes = []Probe{{Record: "a", AfterStep: 5}}
		assert.Error(t, s.Validate())
	})
	t.Run("missing and expect conflict", func(t *testing.T) {
		s := base()
		s.Probes = []Probe{{Record: "a", AfterStep: 1, Missing: true, Expect: map[string]any{"x": 1}}}
		assert.Error(t, s.Validate())
	})
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
steps:
  - strategy: insert
    docs:
      - { _id: a }
probe:
  - record: a
`), 0o644))

	_, err := LoadScenario(path)
	assert.Error(t, err)
}
