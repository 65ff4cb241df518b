// Package gpu provides AMD GPU detection and a token pool that hands out
// GPU indices to concurrent test workers.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rocm/jaxci/pkg/log"
)

var ErrPoolClosed = errors.New("gpu pool closed")

// Pool is a fixed set of GPU index tokens.
// A token is held by at most one worker at a time.
type Pool struct {
	mu     sync.Mutex
	size   int
	free   []int
	inUse  map[int]struct{}
	notify chan struct{}
	closed bool
}

// NewPool creates a pool holding tokens 0..n-1.
func NewPool(n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid gpu pool size %d", n)
	}
	free := make([]int, 0, n)
	for i := 0; i < n; i++ {
		free = append(free, i)
	}
	return &Pool{
		size:   n,
		free:   free,
		inUse:  make(map[int]struct{}, n),
		notify: make(chan struct{}),
	}, nil
}

// Acquire pops a free token, blocking until one is released or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return -1, ErrPoolClosed
		}
		if n := len(p.free); n > 0 {
			id := p.free[n-1]
			p.free = p.free[:n-1]
			p.inUse[id] = struct{}{}
			p.mu.Unlock()
			return id, nil
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-wait:
		}
	}
}

// Release returns a token to the pool.
// Releasing a token that is not held is logged and ignored.
func (p *Pool) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[id]; !ok {
		log.Logger.Warnw("ignoring release of gpu token not in use", "gpu", id)
		return
	}
	delete(p.inUse, id)
	p.free = append(p.free, id)

	if p.closed {
		return
	}
	// wake every waiter, they race for the token under the lock
	close(p.notify)
	p.notify = make(chan struct{})
}

// Close wakes all waiters with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.notify)
}

func (p *Pool) Size() int {
	return p.size
}

// InUse returns the held tokens in ascending order.
func (p *Pool) InUse() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.inUse))
	for id := range p.inUse {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// VisibleDevices renders the HIP_VISIBLE_DEVICES value for the given indices.
func VisibleDevices(ids ...int) string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, strconv.Itoa(id))
	}
	return strings.Join(ss, ",")
}

// FirstN returns the indices 0..n-1.
func FirstN(n int) []int {
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, i)
	}
	return ids
}
