// Package tunerpool leases physical tuners to capture workers.
//
// The pool is a fixed set loaded at startup; tuners never appear or disappear
// while the service runs. Acquire is non-blocking: capture workers that find
// the pool empty abandon their airing rather than queue, since a tuner freed
// later would join the broadcast mid-program.
package tunerpool

import (
	"sync"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Pool partitions a fixed tuner set into available and leased.
type Pool struct {
	mu        sync.Mutex
	available []store.Tuner
	leased    map[tunerKey]store.Tuner
}

type tunerKey struct {
	deviceID string
	index    int
}

// New builds a pool with every tuner available. Order is preserved: tuners
// are leased in the order given here, and a released tuner goes to the back
// of the line.
func New(tuners []store.Tuner) *Pool {
	p := &Pool{
		available: make([]store.Tuner, len(tuners)),
		leased:    make(map[tunerKey]store.Tuner),
	}
	copy(p.available, tuners)
	return p
}

// Acquire leases the tuner at the front of the available queue. The second
// return is false when every tuner is leased.
func (p *Pool) Acquire() (store.Tuner, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return store.Tuner{}, false
	}
	t := p.available[0]
	p.available = p.available[1:]
	p.leased[tunerKey{t.DeviceID, t.Index}] = t
	return t, true
}

// Release returns a leased tuner to the available queue. Releasing a tuner
// that is not leased, including one released twice, is a no-op.
func (p *Pool) Release(t store.Tuner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := tunerKey{t.DeviceID, t.Index}
	if _, ok := p.leased[k]; !ok {
		return
	}
	delete(p.leased, k)
	p.available = append(p.available, t)
}

// Size returns the total number of tuners in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available) + len(p.leased)
}

// Available returns how many tuners are currently free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}
