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

// fakeAgent scripts one AgentResult per task kind and records what ran.
type fakeAgent struct {
	results  map[TaskKind]*AgentResult
	err      error
	executed []TaskKind
}

func (f *fakeAgent) RunTask(ctx context.Context, task ProposedTask, contract *PlanContract) (*AgentResult, error) {
	f.executed = append(f.executed, task.Kind)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[task.Kind]; ok {
		return r, nil
	}
	return &AgentResult{}, nil
}

func TestTaskRuntimeExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("writes facts and artifacts and reports their events", func(t *testing.T) {
		bb := setupBlackboard(t)
		agent := &fakeAgent{results: map[TaskKind]*AgentResult{
			TaskPlan: {
				NewFacts: []blackboard.Fact{
					blackboard.StringFact(FactPlan, "steps"),
					blackboard.StringFact(FactDatasets, "sales.csv"),
				},
				Artifacts: []blackboard.Artifact{{Name: "notes", Type: "text", Path: "/tmp/notes.md"}},
				ToolCalls: 3,
				Tokens:    120,
			},
		}}
		rt := NewTaskRuntime(bb, agent, nil)

		outcome, events, err := rt.Execute(ctx, ProposedTask{ID: "t1", Kind: TaskPlan}, &PlanContract{Goal: "g"})
		require.NoError(t, err)
		assert.Equal(t, Outcome{ToolCalls: 3, Tokens: 120}, outcome)

		require.Len(t, events, 3)
		assert.Equal(t, blackboard.Event{Kind: blackboard.EventFactUpserted, Key: FactPlan}, events[0])
		assert.Equal(t, blackboard.Event{Kind: blackboard.EventFactUpserted, Key: FactDatasets}, events[1])
		assert.Equal(t, blackboard.Event{Kind: blackboard.EventArtifactAdded, Name: "notes"}, events[2])

		has, err := bb.HasFact(ctx, FactPlan)
		require.NoError(t, err)
		assert.True(t, has)

		artifacts, err := bb.Artifacts(ctx, func(a blackboard.Artifact) bool { return a.Name == "notes" })
		require.NoError(t, err)
		assert.Len(t, artifacts, 1)
	})

	t.Run("propagates agent errors unchanged", func(t *testing.T) {
		bb := setupBlackboard(t)
		agentErr := errors.New("model unavailable")
		rt := NewTaskRuntime(bb, &fakeAgent{err: agentErr}, nil)

		_, _, err := rt.Execute(ctx, ProposedTask{ID: "t1", Kind: TaskPlan}, &PlanContract{Goal: "g"})
		assert.ErrorIs(t, err, agentErr)
	})

	t.Run("rejects invalid facts before writing", func(t *testing.T) {
		bb := setupBlackboard(t)
		agent := &fakeAgent{results: map[TaskKind]*AgentResult{
			TaskPlan: {NewFacts: []blackboard.Fact{{Key: ""}}},
		}}
		rt := NewTaskRuntime(bb, agent, nil)

		_, _, err := rt.Execute(ctx, ProposedTask{ID: "t1", Kind: TaskPlan}, &PlanContract{Goal: "g"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid fact")
	})

	t.Run("unwritable run log never fails the task", func(t *testing.T) {
		bb := setupBlackboard(t)

		// Parent of the log path is a regular file, so every append fails.
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		badLog := runlog.New(filepath.Join(blocker, "run.log"))

		agent := &fakeAgent{results: map[TaskKind]*AgentResult{
			TaskPlan: {
				NewFacts:  []blackboard.Fact{blackboard.StringFact(FactPlan, "steps")},
				ToolCalls: 1,
			},
		}}
		rt := NewTaskRuntime(bb, agent, badLog)

		outcome, events, err := rt.Execute(ctx, ProposedTask{ID: "t1", Kind: TaskPlan}, &PlanContract{Goal: "g"})
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.ToolCalls)
		require.Len(t, events, 1)

		has, err := bb.HasFact(ctx, FactPlan)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("records task completion in the run log", func(t *testing.T) {
		bb := setupBlackboard(t)
		logPath := filepath.Join(t.TempDir(), "run.log")
		agent := &fakeAgent{results: map[TaskKind]*AgentResult{
			TaskPlan: {ToolCalls: 2, Tokens: 50},
		}}
		rt := NewTaskRuntime(bb, agent, runlog.New(logPath))

		_, _, err := rt.Execute(ctx, ProposedTask{ID: "t1", Kind: TaskPlan, OwnerRole: "planner"}, &PlanContract{Goal: "g"})
		require.NoError(t, err)

		entries, err := runlog.Read(logPath)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "task_complete", entries[0]["event"])
		assert.Equal(t, "t1", entries[0]["task_id"])
	})
}
