package scaffold

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autoflow/internal/config"
)

// inTempDir runs the test from a fresh temp working directory.
func inTempDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestInitialize(t *testing.T) {
	t.Run("creates a loadable config", func(t *testing.T) {
		inTempDir(t)

		require.NoError(t, Initialize(false))

		cfg, err := config.Load("autoflow.yml")
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.Instance)
		assert.Equal(t, "balanced", cfg.Automation.Profile)
		require.NotNil(t, cfg.Crew)

		info, err := os.Stat(".autoflow")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		inTempDir(t)
		require.NoError(t, os.WriteFile("autoflow.yml", []byte("mine"), 0o644))

		err := Initialize(false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		data, err := os.ReadFile("autoflow.yml")
		require.NoError(t, err)
		assert.Equal(t, "mine", string(data))
	})

	t.Run("force replaces an existing config", func(t *testing.T) {
		inTempDir(t)
		require.NoError(t, os.WriteFile("autoflow.yml", []byte("mine"), 0o644))

		require.NoError(t, Initialize(true))

		_, err := config.Load("autoflow.yml")
		assert.NoError(t, err)
	})
}
