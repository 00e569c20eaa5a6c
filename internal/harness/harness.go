package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/pentimento/internal/loader"
	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
	"github.com/roach88/pentimento/internal/testutil"
	"github.com/roach88/pentimento/internal/timeline"
	"github.com/roach88/pentimento/internal/validate"
)

// Result collects everything a scenario run produced.
type Result struct {
	ScenarioName string         `json:"scenario_name"`
	Batches      []BatchOutcome `json:"batches"`
	Probes       []ProbeOutcome `json:"probes,omitempty"`

	// Failures lists every probe expectation that did not hold. An empty
	// slice means the scenario passed.
	Failures []string `json:"failures,omitempty"`
}

// Passed reports whether every probe expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// BatchOutcome is the write result of one step.
type BatchOutcome struct {
	Step     int    `json:"step"`
	Strategy string `json:"strategy"`
	BatchID  string `json:"batch_id"`
	Inserted int64  `json:"inserted"`
	Updated  int64  `json:"updated"`
	Deleted  int64  `json:"deleted"`
}

// ProbeOutcome is the reconstruction result of one probe.
type ProbeOutcome struct {
	Record    string         `json:"record"`
	AfterStep int            `json:"after_step"`
	Found     bool           `json:"found"`
	Document  model.Document `json:"document,omitempty"`
}

// Run executes a scenario against a fresh in-memory database.
//
// Execution flow:
//  1. Open an in-memory store and the scenario's collection
//  2. Compile the inline schema, if any
//  3. Replay each step as one batch write, one clock tick apart
//  4. Reconstruct each probe at its step's timestamp
//  5. Evaluate probe expectations into Failures
//
// Run returns an error only for infrastructure faults; a probe
// expectation that does not hold is reported through Result.Failures.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	name := scenario.Collection
	if name == "" {
		name = "records"
	}
	col, err := st.Collection(ctx, name)
	if err != nil {
		return nil, err
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewSteppingClock(testutil.DefaultClockBase, time.Second)
	histories := testutil.NewSequenceIDs("h")

	opts := []loader.Option{
		loader.WithClock(clock.Now),
		loader.WithBatchIDs(testutil.NewSequenceIDs("batch").Next),
		loader.WithHistoryIDs(func(time.Time) string { return histories.Next() }),
		loader.WithLogger(quiet),
	}
	if scenario.Schema != "" {
		schema, err := validate.CompileSchema(scenario.Schema)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loader.WithValidator(schema))
	}

	coord, err := loader.New(col, opts...)
	if err != nil {
		return nil, err
	}
	engine, err := timeline.New(col, timeline.WithLogger(quiet))
	if err != nil {
		return nil, err
	}

	result := &Result{ScenarioName: scenario.Name}

	for i, step := range scenario.Steps {
		strategy, err := model.ParseStrategy(step.Strategy)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		docs := make([]model.Document, len(step.Docs))
		for j, d := range step.Docs {
			docs[j] = model.Document(d)
		}
		res, err := coord.WriteMany(ctx, docs, strategy, nil)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.Batches = append(result.Batches, BatchOutcome{
			Step:     i + 1,
			Strategy: step.Strategy,
			BatchID:  res.BatchID,
			Inserted: res.Inserted,
			Updated:  res.Updated,
			Deleted:  res.Deleted,
		})
	}

	for i, probe := range scenario.Probes {
		cutoff := clock.At(int64(probe.AfterStep - 1))
		doc, err := engine.AsOf(ctx, probe.Record, cutoff)

		outcome := ProbeOutcome{Record: probe.Record, AfterStep: probe.AfterStep}
		switch {
		case errors.Is(err, model.ErrNotFound):
			// Leave Found false.
		case err != nil:
			return nil, fmt.Errorf("probe %d: %w", i+1, err)
		default:
			outcome.Found = true
			outcome.Document = doc
		}
		result.Probes = append(result.Probes, outcome)
		evaluateProbe(probe, outcome, i+1, result)
	}

	return result, nil
}
