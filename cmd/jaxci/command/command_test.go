package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppCommands(t *testing.T) {
	app := App()
	assert.Equal(t, "jaxci", app.Name)

	for _, name := range []string{
		"run-single",
		"run-multi",
		"merge-reports",
		"handle-abort",
		"summary",
		"history",
		"gpus",
		"list-multi-gpu-tests",
		"compact",
	} {
		cmd := app.Command(name)
		require.NotNil(t, cmd, name)
		assert.NotNil(t, cmd.Action, name)
		assert.NotEmpty(t, cmd.Usage, name)
	}
}

func TestAppFlags(t *testing.T) {
	app := App()

	has := func(cmd string, flag string) bool {
		for _, f := range app.Command(cmd).Flags {
			if f.GetName() == flag {
				return true
			}
		}
		return false
	}

	assert.True(t, has("run-single", "parallel,p"))
	assert.True(t, has("run-single", "continue-on-fail,c"))
	assert.True(t, has("run-single", "max-crash-retries"))
	assert.True(t, has("run-multi", "gpu-count"))
	assert.True(t, has("run-multi", "max-gpus"))
	assert.True(t, has("run-multi", "ignore-skipfile,s"))
	assert.True(t, has("history", "run-id"))
	assert.True(t, has("summary", "output-format,o"))
	assert.False(t, has("handle-abort", "config"))
}
