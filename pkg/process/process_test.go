package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Spec{Args: []string{"echo", "hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.False(t, res.TimedOut)
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Spec{Args: []string{"echo oops >&2; exit 3"}, Shell: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", string(res.Stderr))
}

func TestRunEnvOverride(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Spec{
		Args:  []string{"echo $HIP_VISIBLE_DEVICES"},
		Env:   []string{"HIP_VISIBLE_DEVICES=3"},
		Shell: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(string(res.Stdout)))
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Spec{
		Args:    []string{"sleep", "10"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestRunSignalExit(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Spec{Args: []string{"kill -SEGV $$"}, Shell: true})
	require.NoError(t, err)
	assert.Equal(t, 128+11, res.ExitCode)
}

func TestRunEmpty(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), Spec{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestRunNotFound(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), Spec{Args: []string{"definitely-not-a-real-binary-jaxci"}})
	require.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv(
		[]string{"PATH=/bin", "HIP_VISIBLE_DEVICES=0", "broken"},
		[]string{"HIP_VISIBLE_DEVICES=2", "XLA_PYTHON_CLIENT_ALLOCATOR=default"},
	)
	assert.Equal(t, []string{"PATH=/bin", "HIP_VISIBLE_DEVICES=2", "XLA_PYTHON_CLIENT_ALLOCATOR=default"}, got)
}

func TestEnvMapToList(t *testing.T) {
	got := EnvMapToList(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"A=1", "B=2"}, got)
}

type fakeProc struct {
	cmdline string
	cmdErr  error
	killed  bool
}

func (f *fakeProc) CmdlineWithContext(context.Context) (string, error) { return f.cmdline, f.cmdErr }
func (f *fakeProc) KillWithContext(context.Context) error {
	f.killed = true
	return nil
}

func TestKillMatching(t *testing.T) {
	self := &fakeProc{cmdline: "python3 -m pytest jaxci"}
	stray := &fakeProc{cmdline: "python3 -m pytest tests/api_test.py"}
	other := &fakeProc{cmdline: "bash"}
	gone := &fakeProc{cmdErr: errors.New("no such process")}

	list := func(context.Context) ([]pidProcess, error) {
		return []pidProcess{
			{pid: 1, ProcessStatus: self},
			{pid: 2, ProcessStatus: stray},
			{pid: 3, ProcessStatus: other},
			{pid: 4, ProcessStatus: gone},
		}, nil
	}

	killed, err := killMatching(context.Background(), list, `python.*pytest`, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, killed)
	assert.False(t, self.killed)
	assert.True(t, stray.killed)
	assert.False(t, other.killed)
}

func TestKillMatchingBadPattern(t *testing.T) {
	_, err := killMatching(context.Background(), nil, "(")
	require.Error(t, err)
}
