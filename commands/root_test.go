package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootSubcommands(t *testing.T) {
	root := Root()

	expected := []string{"serve", "worker", "scan", "dispatch", "check", "version"}
	for _, name := range expected {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestCheckCommandEmptyRoot(t *testing.T) {
	// An empty workflows tree is a failure, not a silent pass.
	err := runCheck(t.TempDir())
	require.Error(t, err)
}
