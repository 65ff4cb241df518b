package gpus

import (
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"github.com/rocm/jaxci/pkg/process"
)

type fakeRunner struct {
	res process.Result
	err error
}

func (f *fakeRunner) Run(ctx context.Context, spec process.Spec) (process.Result, error) {
	return f.res, f.err
}

func TestCommand(t *testing.T) {
	origRunner, origMem := newProcessRunner, availableMemory
	defer func() { newProcessRunner, availableMemory = origRunner, origMem }()
	availableMemory = func(ctx context.Context) (float64, error) { return 64, nil }

	tests := []struct {
		name    string
		stdout  string
		format  string
		wantErr bool
	}{
		{
			name:   "plain",
			stdout: "Device  Node  IDs\n=====\n0       2     0x74a1\n1       3     0x74a1\n",
			format: "plain",
		},
		{
			name:   "json",
			stdout: "Device  Node  IDs\n0       2     0x74a1\n",
			format: "json",
		},
		{
			name:    "no gpus",
			stdout:  "Device  Node  IDs\n",
			format:  "json",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newProcessRunner = func() process.Runner {
				return &fakeRunner{res: process.Result{Stdout: []byte(tt.stdout)}}
			}

			set := flag.NewFlagSet("gpus", flag.ContinueOnError)
			set.String("output-format", "", "")
			require.NoError(t, set.Parse([]string{"--output-format", tt.format}))

			err := Command(cli.NewContext(cli.NewApp(), set, nil))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no AMD GPUs")
				return
			}
			require.NoError(t, err)
		})
	}
}
