package printer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autoflow/internal/status"
)

func TestError(t *testing.T) {
	t.Run("returns error with title only", func(t *testing.T) {
		err := Error("Config not found", "No autoflow.yml in the current directory", nil)
		require.Error(t, err)
		require.Equal(t, "Config not found", err.Error())
	})

	t.Run("suggestions do not leak into the error", func(t *testing.T) {
		err := Error("Redis unreachable", "Could not connect", []string{
			"Check that Redis is running",
			"Verify redis.addr in autoflow.yml",
		})
		require.Error(t, err)
		require.Equal(t, "Redis unreachable", err.Error())
	})
}

// Status writes colored lines to stdout; the test only checks it handles
// every phase without panicking.
func TestStatusCoversAllPhases(t *testing.T) {
	for _, s := range []status.Status{
		status.Idle(),
		status.Evaluating(),
		status.Running("Running Quick EDA on sales"),
		status.Paused("Automation disabled"),
		status.Blocked("quiescent"),
	} {
		Status(s)
	}
}
