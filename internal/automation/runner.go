package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"

	"github.com/meridianhq/autoflow/internal/rules"
)

// maxRunnerOutput caps captured stdout/stderr from the runner subprocess.
const maxRunnerOutput = 10 * 1024 * 1024

// ExecRunner runs playbooks by spawning a configured command and feeding it
// the playbook as JSON on stdin. The command's exit code is the outcome:
// zero is success, anything else is a runner failure.
type ExecRunner struct {
	command []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecRunner creates a subprocess-backed playbook runner.
func NewExecRunner(command []string) (*ExecRunner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("runner command cannot be empty")
	}
	return &ExecRunner{command: command}, nil
}

// Run implements PlaybookRunner. The subprocess inherits the context, so
// cancellation (timeout or stop) kills it.
func (r *ExecRunner) Run(ctx context.Context, pb rules.Playbook) error {
	input, err := json.Marshal(pb)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdout, limit: maxRunnerOutput}
	cmd.Stderr = &limitedWriter{w: stderr, limit: maxRunnerOutput}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	go func() {
		defer stdin.Close()
		if _, err := stdin.Write(input); err != nil {
			log.Printf("[WARN] Failed to write playbook to runner stdin: %v", err)
		}
	}()

	waitErr := cmd.Wait()

	r.mu.Lock()
	r.cmd = nil
	r.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("runner failed: %w (stderr: %s)", waitErr, truncate(stderr.String(), 500))
	}
	return nil
}

// StopCurrentRun implements PlaybookRunner by killing the subprocess.
// The context cancellation normally does this; the explicit kill covers a
// runner that outlives its context.
func (r *ExecRunner) StopCurrentRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.Process != nil {
		if err := r.cmd.Process.Kill(); err != nil {
			log.Printf("[WARN] Failed to kill runner process: %v", err)
		}
	}
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// truncate limits a string to maxLen characters, appending "..." if cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
