// Package rules maps domain events to candidate automation actions.
// The engine is a pure function of (event, preferences): no clocks, no I/O,
// no hidden state, so policy is testable without the actor runtime.
package rules

import (
	"fmt"

	"github.com/meridianhq/autoflow/internal/bus"
	"github.com/meridianhq/autoflow/internal/guardrail"
)

// Playbook identifies an automated data-processing recipe to hand to the
// external runner. The automation core does not know what a playbook does.
type Playbook struct {
	ID          string            `json:"id"`
	DatasetPath string            `json:"dataset_path"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Description string            `json:"description"`
}

// Action is a candidate automation decision: the playbook to run plus the
// dedup cache key. Actions are produced fresh per decision, never mutated.
type Action struct {
	Playbook Playbook
	CacheKey string
}

// Playbook identifiers understood by the runner.
const (
	PlaybookQuickEDA     = "eda-basic"
	PlaybookCleanProfile = "clean-profile"
)

// MaxAutoEDABytes is the hard dataset-size ceiling for automatic profiling.
// Larger datasets are never auto-profiled under any profile.
const MaxAutoEDABytes int64 = 50 * 1024 * 1024

// DefaultNullRatioThreshold triggers auto-clean when a run reports at least
// this fraction of null values.
const DefaultNullRatioThreshold = 0.3

// Engine is the stateless rule table.
type Engine struct {
	nullThreshold float64
}

// NewEngine creates a rule engine. A non-positive threshold selects the
// default.
func NewEngine(nullThreshold float64) *Engine {
	if nullThreshold <= 0 {
		nullThreshold = DefaultNullRatioThreshold
	}
	return &Engine{nullThreshold: nullThreshold}
}

// ActionFor returns at most one candidate action for the event, or nil when
// no rule fires. There is no fan-out: the first matching rule wins.
func (e *Engine) ActionFor(ev bus.Event, prefs guardrail.Preferences) *Action {
	switch ev := ev.(type) {
	case bus.DatasetMounted:
		return e.datasetMounted(ev, prefs)
	case bus.RunFinished:
		return e.runFinished(ev, prefs)
	default:
		// app_became_active and error_occurred never produce actions;
		// errors feed the engine's failure path, not the rule table.
		return nil
	}
}

func (e *Engine) datasetMounted(ev bus.DatasetMounted, prefs guardrail.Preferences) *Action {
	if prefs.Profile == guardrail.ProfileOff {
		return nil
	}
	if !prefs.Toggles.QuickEDAOnMount {
		return nil
	}
	if ev.Dataset.SizeBytes > MaxAutoEDABytes {
		return nil
	}

	return &Action{
		Playbook: Playbook{
			ID:          PlaybookQuickEDA,
			DatasetPath: ev.Dataset.Path,
			Description: fmt.Sprintf("Running Quick EDA on %s", ev.Dataset.Name),
		},
		CacheKey: cacheKey("quick-eda", ev.Dataset.Path),
	}
}

func (e *Engine) runFinished(ev bus.RunFinished, prefs guardrail.Preferences) *Action {
	ds := ev.Stats.Dataset

	// Clean-high-nulls takes priority over plots-on-missing.
	if prefs.Toggles.CleanOnHighNulls &&
		ev.Stats.NullRatio >= e.nullThreshold &&
		(prefs.Profile == guardrail.ProfileBalanced || prefs.Profile == guardrail.ProfileAggressive) {
		return &Action{
			Playbook: Playbook{
				ID:          PlaybookCleanProfile,
				DatasetPath: ds.Path,
				Description: fmt.Sprintf("Cleaning high-null columns in %s", ds.Name),
			},
			CacheKey: cacheKey("clean-high-nulls", ds.Path),
		}
	}

	// Force-adding plots is aggressive-only; balanced never does it.
	if prefs.Toggles.PlotsOnMissing &&
		prefs.Profile == guardrail.ProfileAggressive &&
		ev.Stats.ImagesProduced == 0 {
		return &Action{
			Playbook: Playbook{
				ID:          PlaybookQuickEDA,
				DatasetPath: ds.Path,
				Parameters:  map[string]string{"mode": "plots"},
				Description: fmt.Sprintf("Generating plots for %s", ds.Name),
			},
			CacheKey: cacheKey("plots-on-missing", ds.Path),
		}
	}

	return nil
}

// cacheKey builds the stable dedup key for a (rule, dataset) pair.
// Identity is the dataset path: a renamed or moved dataset is a new identity
// even when its content is unchanged.
func cacheKey(rule, datasetPath string) string {
	return rule + "::" + datasetPath
}
