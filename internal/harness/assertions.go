package harness

import (
	"fmt"
	"reflect"

	"github.com/roach88/pentimento/internal/model"
)

// evaluateProbe checks one probe's expectations against its outcome and
// appends a line per violated expectation.
func evaluateProbe(probe Probe, outcome ProbeOutcome, n int, result *Result) {
	if probe.Missing {
		if outcome.Found {
			result.Failures = append(result.Failures,
				fmt.Sprintf("probe %d: record %s existed at step %d but was expected missing",
					n, probe.Record, probe.AfterStep))
		}
		return
	}

	if !outcome.Found {
		result.Failures = append(result.Failures,
			fmt.Sprintf("probe %d: record %s not found at step %d", n, probe.Record, probe.AfterStep))
		return
	}

	for path, want := range probe.Expect {
		got, ok := lookupPath(outcome.Document, path)
		if !ok {
			result.Failures = append(result.Failures,
				fmt.Sprintf("probe %d: record %s field %s missing", n, probe.Record, path))
			continue
		}
		if !looselyEqual(got, want) {
			result.Failures = append(result.Failures,
				fmt.Sprintf("probe %d: record %s field %s = %v, want %v",
					n, probe.Record, path, got, want))
		}
	}
}

// lookupPath resolves a dotted path inside a nested document.
func lookupPath(doc model.Document, path string) (any, bool) {
	node := any(doc)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		m, ok := node.(model.Document)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// looselyEqual compares a reconstructed value with a YAML-sourced expected
// value. YAML decodes integers as int while normalized documents hold
// float64, so numbers compare by value, not type.
func looselyEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
		return false
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
