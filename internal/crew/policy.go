package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// Well-known blackboard fact keys the policies coordinate through.
const (
	FactGoal     = "goal"
	FactPlan     = "plan"
	FactDatasets = "datasets"
	FactSchema   = "schema"
	FactDone     = "done"

	// IssuePrefix marks facts recording problems found by critique.
	IssuePrefix = "issue"

	// MetricPrefix marks facts recording per-column quality metrics.
	MetricPrefix = "metric:"
)

// Task priorities. Higher wins; ties go to the first-listed policy.
const (
	priorityPlan       = 100
	prioritySynthesis  = 90
	prioritySchema     = 80
	priorityCorrective = 70
	priorityPlot       = 60
	priorityCritique   = 40
)

// PolicyContext is the read surface policies evaluate against.
type PolicyContext struct {
	BB        *blackboard.Client
	Contract  *PlanContract
	Validator *Validator
}

// Policy proposes zero or more prioritized tasks in reaction to a
// blackboard change. Implementations must be idempotent: given an
// unchanged blackboard, a policy never proposes the same milestone twice -
// each checks "has this already been produced?" before proposing.
type Policy interface {
	Name() string
	Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error)
}

// DefaultPolicies returns the standard policy set in evaluation order.
// The order is load-bearing: priority ties break toward the earlier policy.
func DefaultPolicies() []Policy {
	return []Policy{
		&BootPolicy{},
		&EDAPolicy{},
		&PlotPolicy{},
		&CritiquePolicy{},
		&SynthesisPolicy{},
	}
}

// BootPolicy proposes the initial plan task when a goal appears.
// Guarded by the absence of an existing plan fact, so re-upserting the
// same goal never produces two plan tasks.
type BootPolicy struct{}

func (*BootPolicy) Name() string { return "boot" }

func (*BootPolicy) Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error) {
	if ev.Kind != blackboard.EventFactUpserted || ev.Key != FactGoal {
		return nil, nil
	}

	planned, err := pctx.BB.HasFact(ctx, FactPlan)
	if err != nil {
		return nil, fmt.Errorf("boot policy: %w", err)
	}
	if planned {
		return nil, nil
	}

	return []ProposedTask{{
		ID:        uuid.New().String(),
		OwnerRole: "planner",
		Kind:      TaskPlan,
		Inputs:    []string{FactGoal},
		Intents:   []string{"decompose-goal"},
		Priority:  priorityPlan,
	}}, nil
}

// EDAPolicy proposes schema inference once a dataset list exists and no
// schema has been produced yet.
type EDAPolicy struct{}

func (*EDAPolicy) Name() string { return "eda" }

func (*EDAPolicy) Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error) {
	hasDatasets, err := pctx.BB.HasFact(ctx, FactDatasets)
	if err != nil {
		return nil, fmt.Errorf("eda policy: %w", err)
	}
	if !hasDatasets {
		return nil, nil
	}

	hasSchema, err := pctx.BB.HasFact(ctx, FactSchema)
	if err != nil {
		return nil, fmt.Errorf("eda policy: %w", err)
	}
	if hasSchema {
		return nil, nil
	}

	return []ProposedTask{{
		ID:        uuid.New().String(),
		OwnerRole: "analyst",
		Kind:      TaskSchemaInfer,
		Inputs:    []string{FactDatasets},
		Intents:   []string{"infer-schema"},
		Priority:  prioritySchema,
	}}, nil
}

// PlotPolicy proposes a plotting run once a schema exists and the
// blackboard holds no image artifact yet.
type PlotPolicy struct{}

func (*PlotPolicy) Name() string { return "plot" }

func (*PlotPolicy) Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error) {
	hasSchema, err := pctx.BB.HasFact(ctx, FactSchema)
	if err != nil {
		return nil, fmt.Errorf("plot policy: %w", err)
	}
	if !hasSchema {
		return nil, nil
	}

	images, err := pctx.BB.Artifacts(ctx, isPNG)
	if err != nil {
		return nil, fmt.Errorf("plot policy: %w", err)
	}
	if len(images) > 0 {
		return nil, nil
	}

	return []ProposedTask{{
		ID:        uuid.New().String(),
		OwnerRole: "plotter",
		Kind:      TaskPythonRun,
		Inputs:    []string{FactSchema},
		Intents:   []string{"plot"},
		Priority:  priorityPlot,
	}}, nil
}

// CritiquePolicy reacts to new work: every new artifact triggers a
// critique task, and every issue fact triggers a corrective python run.
// Critique-typed artifacts are exempt so critique output never feeds
// itself.
type CritiquePolicy struct{}

func (*CritiquePolicy) Name() string { return "critique" }

func (*CritiquePolicy) Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error) {
	switch ev.Kind {
	case blackboard.EventArtifactAdded:
		matches, err := pctx.BB.Artifacts(ctx, func(a blackboard.Artifact) bool {
			return a.Name == ev.Name
		})
		if err != nil {
			return nil, fmt.Errorf("critique policy: %w", err)
		}
		if len(matches) == 0 {
			return nil, nil
		}
		if matches[len(matches)-1].Type == "critique" {
			return nil, nil
		}

		return []ProposedTask{{
			ID:        uuid.New().String(),
			OwnerRole: "critic",
			Kind:      TaskCritique,
			Inputs:    []string{ev.Name},
			Intents:   []string{"review-artifact"},
			Priority:  priorityCritique,
		}}, nil

	case blackboard.EventFactUpserted:
		if !strings.HasPrefix(ev.Key, IssuePrefix) {
			return nil, nil
		}

		return []ProposedTask{{
			ID:        uuid.New().String(),
			OwnerRole: "critic",
			Kind:      TaskPythonRun,
			Inputs:    []string{ev.Key},
			Intents:   []string{"fix-issue"},
			Priority:  priorityCorrective,
		}}, nil

	default:
		return nil, nil
	}
}

// SynthesisPolicy proposes the terminal synthesis task once every quality
// gate passes and no done fact exists. The validator runs synchronously
// inside evaluation.
type SynthesisPolicy struct{}

func (*SynthesisPolicy) Name() string { return "synthesis" }

func (*SynthesisPolicy) Evaluate(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) ([]ProposedTask, error) {
	done, err := pctx.BB.HasFact(ctx, FactDone)
	if err != nil {
		return nil, fmt.Errorf("synthesis policy: %w", err)
	}
	if done {
		return nil, nil
	}

	failures, err := pctx.Validator.Failures(ctx, pctx.Contract.QualityGates, pctx.BB)
	if err != nil {
		return nil, fmt.Errorf("synthesis policy: %w", err)
	}
	if len(failures) > 0 {
		return nil, nil
	}

	return []ProposedTask{{
		ID:        uuid.New().String(),
		OwnerRole: "synthesizer",
		Kind:      TaskSynthesis,
		Inputs:    pctx.Contract.RequiredDeliverables,
		Intents:   []string{"synthesize-result"},
		Priority:  prioritySynthesis,
	}}, nil
}
