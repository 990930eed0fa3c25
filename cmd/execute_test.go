package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteVersionFlag(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	for _, arg := range []string{"version", "--version", "-v"} {
		os.Args = []string{"recall", arg}
		assert.NoError(t, Execute(), "arg %q", arg)
	}
}

func TestExecuteHelpFlag(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"recall", "--help"}
	assert.NoError(t, Execute())
}

func TestExecuteUnknownCommand(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"recall", "frobnicate"}
	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}
