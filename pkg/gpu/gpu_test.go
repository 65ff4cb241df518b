package gpu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/jaxci/pkg/process"
)

const rocmSMIOutput = `

============================================ ROCm System Management Interface ============================================
====================================================== Concise Info ======================================================
Device  Node  IDs              Temp        Power     Partitions          SCLK    MCLK    Fan  Perf  PwrCap  VRAM%  GPU%
              (DID,     GUID)  (Junction)  (Socket)  (Mem, Compute, ID)
==========================================================================================================================
0       2     0x74a1,   28851  35.0°C      140.0W    NPS1, SPX, 0        134Mhz  900Mhz  0%   auto  750.0W  0%     0%
1       3     0x74a1,   23018  37.0°C      142.0W    NPS1, SPX, 0        133Mhz  900Mhz  0%   auto  750.0W  0%     0%
2       4     0x74a1,   29122  36.0°C      139.0W    NPS1, SPX, 0        132Mhz  900Mhz  0%   auto  750.0W  0%     0%
==========================================================================================================================
================================================== End of ROCm SMI Log ===================================================
`

func TestParseROCmSMI(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int
	}{
		{name: "concise table", out: rocmSMIOutput, want: 3},
		{name: "empty", out: "", want: 0},
		{name: "no header", out: "0 1 2\n1 2 3\n", want: 0},
		{name: "header only", out: "Device Node\n=====\n", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseROCmSMI([]byte(tt.out)))
		})
	}
}

type fakeRunner struct {
	res process.Result
	err error
}

func (f *fakeRunner) Run(context.Context, process.Spec) (process.Result, error) {
	return f.res, f.err
}

func TestDetectAMDGPUs(t *testing.T) {
	ctx := context.Background()

	n, err := DetectAMDGPUs(ctx, &fakeRunner{res: process.Result{Stdout: []byte(rocmSMIOutput)}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = DetectAMDGPUs(ctx, &fakeRunner{res: process.Result{Stdout: []byte("nothing")}})
	assert.ErrorIs(t, err, ErrNoGPUs)

	_, err = DetectAMDGPUs(ctx, &fakeRunner{res: process.Result{ExitCode: 2}})
	assert.Error(t, err)

	_, err = DetectAMDGPUs(ctx, &fakeRunner{err: errors.New("not found")})
	assert.Error(t, err)
}

func TestNewPoolInvalid(t *testing.T) {
	_, err := NewPool(0)
	require.Error(t, err)
}

func TestPoolAcquireRelease(t *testing.T) {
	p, err := NewPool(2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.ElementsMatch(t, []int{0, 1}, p.InUse())

	// exhausted pool blocks until ctx expires
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(a)
	assert.Equal(t, []int{b}, p.InUse())

	// double release is ignored
	p.Release(a)
	p.Release(42)
	assert.Equal(t, []int{b}, p.InUse())

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestPoolBlockingHandoff(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)

	id, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan int, 1)
	go func() {
		next, err := p.Acquire(context.Background())
		if err == nil {
			got <- next
		}
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(id)

	select {
	case next := <-got:
		assert.Equal(t, id, next)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPoolExclusive(t *testing.T) {
	const workers = 16
	p, err := NewPool(3)
	require.NoError(t, err)

	var holders [3]int32
	var violations int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := p.Acquire(context.Background())
				if err != nil {
					return
				}
				if atomic.AddInt32(&holders[id], 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				time.Sleep(time.Microsecond)
				atomic.AddInt32(&holders[id], -1)
				p.Release(id)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Empty(t, p.InUse())
}

func TestPoolClose(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)
	id, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()
	p.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by close")
	}

	// release after close must not panic
	p.Release(id)
}

func TestVisibleDevices(t *testing.T) {
	assert.Equal(t, "", VisibleDevices())
	assert.Equal(t, "3", VisibleDevices(3))
	assert.Equal(t, "0,1,2,3", VisibleDevices(FirstN(4)...))
}
