package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionAll(t *testing.T) {
	root := &cobra.Command{Use: "memo"}
	root.AddCommand(&cobra.Command{Use: "record", Short: "Manage records", Run: func(*cobra.Command, []string) {}})

	for _, shell := range completionShells {
		t.Run(shell, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, writeCompletion(root, &out, shell, true))
			assert.Contains(t, out.String(), "memo")
		})
	}

	t.Run("Unsupported", func(t *testing.T) {
		var out bytes.Buffer
		err := writeCompletion(root, &out, "tcsh", true)
		assert.ErrorContains(t, err, "unsupported shell")
		assert.Zero(t, out.Len())
	})

	t.Run("SkipsVault", func(t *testing.T) {
		assert.True(t, skipsVault(completionCmd))
	})
}
