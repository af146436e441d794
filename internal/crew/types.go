// Package crew implements the blackboard-based multi-agent task scheduler:
// independent policies observe blackboard changes and propose prioritized
// tasks, a drive loop executes the best proposal per tick under budget
// ceilings, and a validator gates terminal synthesis on quality.
package crew

import (
	"fmt"

	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// TaskKind classifies what a proposed task asks the agent runtime to do.
type TaskKind string

const (
	TaskPlan        TaskKind = "plan"
	TaskSchemaInfer TaskKind = "schema_infer"
	TaskCodeGen     TaskKind = "code_gen"
	TaskPythonRun   TaskKind = "python_run"
	TaskCritique    TaskKind = "critique"
	TaskSynthesis   TaskKind = "synthesis"
)

// Validate checks if the TaskKind is a valid enum value.
func (k TaskKind) Validate() error {
	switch k {
	case TaskPlan, TaskSchemaInfer, TaskCodeGen, TaskPythonRun, TaskCritique, TaskSynthesis:
		return nil
	default:
		return fmt.Errorf("unknown task kind: %q", k)
	}
}

// ProposedTask is one policy's bid for the next unit of work. It is
// produced by a policy evaluation and consumed at most once, by the drive
// loop tick that selects it.
type ProposedTask struct {
	ID        string   `json:"id"`
	OwnerRole string   `json:"owner_role"`
	Kind      TaskKind `json:"kind"`
	Inputs    []string `json:"inputs,omitempty"`
	Intents   []string `json:"intents,omitempty"`
	Priority  int      `json:"priority"`
}

// Describe returns a short human-readable label for status broadcasts.
func (t ProposedTask) Describe() string {
	return fmt.Sprintf("%s (%s)", t.Kind, t.OwnerRole)
}

// Outcome reports the resources one task execution consumed.
type Outcome struct {
	ToolCalls int `json:"tool_calls"`
	Tokens    int `json:"tokens"`
}

// AgentResult is what the external agent runtime returns for one task.
// The scheduler does not interpret it beyond writing the facts and
// artifacts to the blackboard.
type AgentResult struct {
	NewFacts  []blackboard.Fact     `json:"new_facts,omitempty"`
	Artifacts []blackboard.Artifact `json:"artifacts,omitempty"`
	Messages  []string              `json:"messages,omitempty"`
	ToolCalls int                   `json:"tool_calls"`
	Tokens    int                   `json:"tokens"`
}
