package crew

import (
	"context"
	"fmt"
	"log"

	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// AgentRuntime executes one task against the contract and returns the
// agent's proposed blackboard changes. Implementations are expected to be
// external processes (see ExecAgentRuntime); tests substitute scripted
// fakes.
type AgentRuntime interface {
	RunTask(ctx context.Context, task ProposedTask, contract *PlanContract) (*AgentResult, error)
}

// TaskRuntime applies agent results to the blackboard. It is the only
// component that writes facts or artifacts during a crew run; policies
// and the validator only read.
type TaskRuntime struct {
	bb     *blackboard.Client
	agent  AgentRuntime
	runLog *runlog.Logger
}

// NewTaskRuntime creates a task runtime over the given blackboard and
// agent. runLog may be nil to disable audit entries.
func NewTaskRuntime(bb *blackboard.Client, agent AgentRuntime, runLog *runlog.Logger) *TaskRuntime {
	return &TaskRuntime{bb: bb, agent: agent, runLog: runLog}
}

// Execute runs one task to completion: it invokes the agent, writes every
// returned fact and artifact in order, and returns the blackboard events
// those writes produced so the drive loop can react without waiting on
// pub/sub delivery. Agent errors propagate unchanged so the caller can
// decide whether the run continues.
func (r *TaskRuntime) Execute(ctx context.Context, task ProposedTask, contract *PlanContract) (Outcome, []blackboard.Event, error) {
	result, err := r.agent.RunTask(ctx, task, contract)
	if err != nil {
		return Outcome{}, nil, err
	}

	outcome := Outcome{ToolCalls: result.ToolCalls, Tokens: result.Tokens}

	events := make([]blackboard.Event, 0, len(result.NewFacts)+len(result.Artifacts))
	for _, f := range result.NewFacts {
		if err := f.Validate(); err != nil {
			return outcome, events, fmt.Errorf("task %s returned invalid fact: %w", task.ID, err)
		}
		if err := r.bb.UpsertFact(ctx, f); err != nil {
			return outcome, events, fmt.Errorf("writing fact %q: %w", f.Key, err)
		}
		events = append(events, blackboard.Event{Kind: blackboard.EventFactUpserted, Key: f.Key})
	}
	for _, a := range result.Artifacts {
		if err := a.Validate(); err != nil {
			return outcome, events, fmt.Errorf("task %s returned invalid artifact: %w", task.ID, err)
		}
		if err := r.bb.AddArtifact(ctx, a); err != nil {
			return outcome, events, fmt.Errorf("adding artifact %q: %w", a.Name, err)
		}
		events = append(events, blackboard.Event{Kind: blackboard.EventArtifactAdded, Name: a.Name})
	}

	if r.runLog != nil {
		// Best effort: a log failure never fails the task it records.
		if err := r.runLog.Append("task_complete", map[string]any{
			"task_id":    task.ID,
			"kind":       string(task.Kind),
			"owner_role": task.OwnerRole,
			"tool_calls": outcome.ToolCalls,
			"tokens":     outcome.Tokens,
			"facts":      len(result.NewFacts),
			"artifacts":  len(result.Artifacts),
		}); err != nil {
			log.Printf("[WARN] Failed to append run log entry: %v", err)
		}
	}

	return outcome, events, nil
}
