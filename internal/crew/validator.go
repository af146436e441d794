package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// Validator evaluates quality gates against blackboard contents.
// An empty failure list is the sole unlock condition for synthesis.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Failures returns one human-readable string per unmet gate. It returns an
// error only for infrastructure problems (Redis unreachable); gate breaches
// are reported in the slice, not as errors.
func (v *Validator) Failures(ctx context.Context, gates []QualityGate, bb *blackboard.Client) ([]string, error) {
	var failures []string

	for _, gate := range gates {
		switch gate.Kind {
		case GateMinImages:
			fs, err := v.checkMinImages(ctx, gate, bb)
			if err != nil {
				return nil, err
			}
			failures = append(failures, fs...)

		case GateTableHasCols:
			fs, err := v.checkTableHasCols(ctx, gate, bb)
			if err != nil {
				return nil, err
			}
			failures = append(failures, fs...)

		case GateMaxNullPct:
			fs, err := v.checkMaxNullPct(ctx, gate, bb)
			if err != nil {
				return nil, err
			}
			failures = append(failures, fs...)

		default:
			failures = append(failures, fmt.Sprintf("unknown quality gate kind %q", gate.Kind))
		}
	}

	return failures, nil
}

// checkMinImages counts PNG artifacts on the blackboard.
func (v *Validator) checkMinImages(ctx context.Context, gate QualityGate, bb *blackboard.Client) ([]string, error) {
	images, err := bb.Artifacts(ctx, isPNG)
	if err != nil {
		return nil, fmt.Errorf("failed to count image artifacts: %w", err)
	}

	if len(images) < gate.Count {
		return []string{fmt.Sprintf("expected at least %d images, found %d", gate.Count, len(images))}, nil
	}
	return nil, nil
}

// checkTableHasCols requires the named table artifact to exist and be
// parseable as a record list containing every required column. A missing
// table and each missing column are reported as distinct failures.
func (v *Validator) checkTableHasCols(ctx context.Context, gate QualityGate, bb *blackboard.Client) ([]string, error) {
	tables, err := bb.Artifacts(ctx, func(a blackboard.Artifact) bool {
		return a.Name == gate.Table
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up table artifact: %w", err)
	}

	if len(tables) == 0 {
		return []string{fmt.Sprintf("table %q not found on blackboard", gate.Table)}, nil
	}

	// Duplicates are allowed; the most recent version is authoritative.
	table := tables[len(tables)-1]

	records, err := readRecordList(table.Path)
	if err != nil {
		return []string{fmt.Sprintf("table %q is not a readable record list: %v", gate.Table, err)}, nil
	}

	present := make(map[string]bool)
	for _, rec := range records {
		for col := range rec {
			present[col] = true
		}
	}

	var failures []string
	for _, col := range gate.Columns {
		if !present[col] {
			failures = append(failures, fmt.Sprintf("table %q missing column %q", gate.Table, col))
		}
	}
	return failures, nil
}

// checkMaxNullPct requires a metric:<column> fact holding a decodable
// ratio at or below the gate's ceiling. Absence and breach are both
// failures.
func (v *Validator) checkMaxNullPct(ctx context.Context, gate QualityGate, bb *blackboard.Client) ([]string, error) {
	fact, err := bb.GetFact(ctx, "metric:"+gate.Column)
	if blackboard.IsNotFound(err) {
		return []string{fmt.Sprintf("no null metric recorded for column %q", gate.Column)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read null metric: %w", err)
	}

	ratio, err := fact.Float()
	if err != nil {
		return []string{fmt.Sprintf("null metric for column %q is not a number: %v", gate.Column, err)}, nil
	}

	if ratio > gate.MaxPct {
		return []string{fmt.Sprintf("column %q null ratio %.2f exceeds %.2f", gate.Column, ratio, gate.MaxPct)}, nil
	}
	return nil, nil
}

// isPNG reports whether an artifact is a PNG image.
func isPNG(a blackboard.Artifact) bool {
	return strings.EqualFold(filepath.Ext(a.Path), ".png") || a.Type == "image/png"
}

// readRecordList loads a JSON file holding an array of records.
func readRecordList(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
