package crew

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// scriptedResults models a cooperative agent that carries a run from goal
// to synthesis: plan produces the plan and dataset facts, schema inference
// the schema fact, the python run a plot plus a null metric, and synthesis
// the done fact.
func scriptedResults(t *testing.T) map[TaskKind]*AgentResult {
	t.Helper()
	plotPath := filepath.Join(t.TempDir(), "hist.png")
	require.NoError(t, os.WriteFile(plotPath, []byte("png"), 0o644))

	return map[TaskKind]*AgentResult{
		TaskPlan: {
			NewFacts: []blackboard.Fact{
				blackboard.StringFact(FactPlan, "infer schema, plot, synthesize"),
				blackboard.StringFact(FactDatasets, "sales.csv"),
			},
			ToolCalls: 1, Tokens: 100,
		},
		TaskSchemaInfer: {
			NewFacts:  []blackboard.Fact{blackboard.StringFact(FactSchema, "region,total")},
			ToolCalls: 1, Tokens: 80,
		},
		TaskPythonRun: {
			NewFacts:  []blackboard.Fact{blackboard.NumberFact("metric:total", 0.02)},
			Artifacts: []blackboard.Artifact{{Name: "hist", Type: "image/png", Path: plotPath}},
			ToolCalls: 2, Tokens: 150,
		},
		TaskSynthesis: {
			NewFacts:  []blackboard.Fact{blackboard.StringFact(FactDone, "report ready")},
			ToolCalls: 1, Tokens: 60,
		},
	}
}

func testContract(gates ...QualityGate) *PlanContract {
	return &PlanContract{Goal: "analyze sales", QualityGates: gates}
}

func TestEngineRunToCompletion(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	report, err := engine.Run(ctx, testContract(MinImages(1), MaxNullPct("total", 0.1)))
	require.NoError(t, err)

	assert.True(t, report.Done)
	assert.Equal(t, StopDone, report.StopReason)
	assert.Empty(t, report.TaskFailures)
	assert.Empty(t, report.GateFailures)
	assert.NotEmpty(t, report.RunID)

	// Highest-priority proposal wins each tick, so the run advances
	// plan -> schema -> plot -> synthesis without detours.
	assert.Equal(t, []TaskKind{TaskPlan, TaskSchemaInfer, TaskPythonRun, TaskSynthesis}, agent.executed)
	assert.Equal(t, 4, report.TasksExecuted)
	assert.Equal(t, 5, report.ToolCalls)
	assert.Equal(t, 390, report.Tokens)

	done, err := bb.HasFact(ctx, FactDone)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestEngineRunIsIdempotentPerMilestone(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	_, err := engine.Run(ctx, testContract(MinImages(1)))
	require.NoError(t, err)

	// Each milestone task ran exactly once even though several events
	// satisfied its preconditions.
	counts := map[TaskKind]int{}
	for _, k := range agent.executed {
		counts[k]++
	}
	assert.Equal(t, 1, counts[TaskPlan])
	assert.Equal(t, 1, counts[TaskSchemaInfer])
	assert.Equal(t, 1, counts[TaskSynthesis])
}

func TestEngineToolCallBudget(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	contract := testContract(MinImages(1))
	contract.Budgets.MaxToolCalls = 2

	report, err := engine.Run(ctx, contract)
	require.NoError(t, err)

	assert.False(t, report.Done)
	assert.Equal(t, StopToolCalls, report.StopReason)
	assert.Equal(t, 2, report.TasksExecuted)
	assert.NotEmpty(t, report.GateFailures)
}

func TestEngineTokenBudget(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	contract := testContract(MinImages(1))
	contract.Budgets.MaxTokensTotal = 150

	report, err := engine.Run(ctx, contract)
	require.NoError(t, err)

	assert.False(t, report.Done)
	assert.Equal(t, StopTokens, report.StopReason)
	assert.Equal(t, 2, report.TasksExecuted)
}

func TestEngineTaskFailureEndsRun(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	agent := &fakeAgent{err: errors.New("model unavailable")}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	report, err := engine.Run(ctx, testContract())
	require.NoError(t, err)

	assert.False(t, report.Done)
	assert.Equal(t, StopTaskFailure, report.StopReason)
	require.Len(t, report.TaskFailures, 1)
	assert.Contains(t, report.TaskFailures[0], "model unavailable")
	assert.Equal(t, 1, report.TasksExecuted)
}

func TestEngineRejectsInvalidContract(t *testing.T) {
	bb := setupBlackboard(t)
	engine := NewEngine(bb, NewTaskRuntime(bb, &fakeAgent{}, nil), nil)

	_, err := engine.Run(context.Background(), &PlanContract{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "goal cannot be empty")
}

func TestEngineCancelledContext(t *testing.T) {
	bb := setupBlackboard(t)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Run(ctx, testContract(MinImages(1)))
	require.Error(t, err)
	assert.Nil(t, report)
}

func TestEngineCompletesWithUnwritableRunLog(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)

	// Parent of the log path is a regular file, so every append fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	badLog := runlog.New(filepath.Join(blocker, "run.log"))

	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, badLog), badLog)

	report, err := engine.Run(ctx, testContract(MinImages(1)))
	require.NoError(t, err)

	assert.True(t, report.Done)
	assert.Equal(t, StopDone, report.StopReason)
	assert.Empty(t, report.TaskFailures)
	assert.Equal(t, 4, report.TasksExecuted)
}

func TestEngineWallClockBudget(t *testing.T) {
	bb := setupBlackboard(t)
	agent := &stalledAgent{}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, nil), nil)

	contract := testContract(MinImages(1))
	contract.Budgets.WallClockSec = 1

	report, err := engine.Run(context.Background(), contract)
	require.NoError(t, err)

	assert.False(t, report.Done)
	assert.Equal(t, StopWallClock, report.StopReason)
	assert.NotEmpty(t, report.GateFailures)
}

// stalledAgent blocks until the run context expires.
type stalledAgent struct{}

func (*stalledAgent) RunTask(ctx context.Context, task ProposedTask, contract *PlanContract) (*AgentResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngineRunLogTrail(t *testing.T) {
	ctx := context.Background()
	bb := setupBlackboard(t)
	logPath := filepath.Join(t.TempDir(), "run.log")
	logger := runlog.New(logPath)
	agent := &fakeAgent{results: scriptedResults(t)}
	engine := NewEngine(bb, NewTaskRuntime(bb, agent, logger), logger)

	report, err := engine.Run(ctx, testContract(MinImages(1)))
	require.NoError(t, err)
	require.True(t, report.Done)

	entries, err := runlog.Read(logPath)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "run_start", entries[0]["event"])
	assert.Equal(t, "run_end", entries[len(entries)-1]["event"])

	var completions int
	for _, e := range entries {
		if e["event"] == "task_complete" {
			completions++
		}
	}
	assert.Equal(t, report.TasksExecuted, completions)
}
