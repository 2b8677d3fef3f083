package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "vretrieve", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "search", "add", "stats", "archive-now", "rebuild-cold", "migrate", "doctor", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
}

func TestMigrateRejectsUnknownTier(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"migrate", "lukewarm", "ivf", "--dir", t.TempDir()})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}
