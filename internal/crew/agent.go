package crew

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
)

// maxAgentOutput caps captured stdout/stderr from the agent subprocess.
const maxAgentOutput = 10 * 1024 * 1024

// agentRequest is the JSON envelope written to the agent's stdin.
type agentRequest struct {
	Task     ProposedTask  `json:"task"`
	Contract *PlanContract `json:"contract"`
}

// ExecAgentRuntime runs tasks by spawning a configured command. The task
// and contract go to stdin as one JSON object; the agent writes an
// AgentResult as JSON to stdout and exits zero on success.
type ExecAgentRuntime struct {
	command []string
}

// NewExecAgentRuntime creates a subprocess-backed agent runtime.
func NewExecAgentRuntime(command []string) (*ExecAgentRuntime, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("agent command cannot be empty")
	}
	return &ExecAgentRuntime{command: command}, nil
}

// RunTask implements AgentRuntime. The subprocess inherits the context, so
// budget deadlines and cancellation kill it.
func (a *ExecAgentRuntime) RunTask(ctx context.Context, task ProposedTask, contract *PlanContract) (*AgentResult, error) {
	input, err := json.Marshal(agentRequest{Task: task, Contract: contract})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = &cappedWriter{w: stdout, limit: maxAgentOutput}
	cmd.Stderr = &cappedWriter{w: stderr, limit: maxAgentOutput}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	go func() {
		defer stdin.Close()
		if _, err := stdin.Write(input); err != nil {
			log.Printf("[WARN] Failed to write task to agent stdin: %v", err)
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("agent failed for task %s: %w (stderr: %s)", task.ID, err, clip(stderr.String(), 500))
	}

	var result AgentResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse agent output for task %s: %w", task.ID, err)
	}
	return &result, nil
}

// cappedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type cappedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (cw *cappedWriter) Write(p []byte) (n int, err error) {
	remaining := cw.limit - cw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = cw.w.Write(toWrite)
	cw.written += n
	return len(p), err
}

// clip limits a string to maxLen characters, appending "..." if cut.
func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
