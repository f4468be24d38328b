// Package portpool implements exclusive port leasing from a configured range.
package portpool

import (
	"log"
	"sync"

	"github.com/pkg/errors"
)

// ErrExhausted is returned by Allocate when no free port remains in the range.
var ErrExhausted = errors.New("portpool: no free ports in range")

// Pool leases ports from [min, max] exclusively. The zero value is not
// usable; construct with New.
type Pool struct {
	mu        sync.Mutex
	min, max  int
	allocated map[int]bool
}

// New constructs a Pool over the inclusive range [min, max].
func New(min, max int) (*Pool, error) {
	if min > max {
		return nil, errors.Errorf("portpool: min %d > max %d", min, max)
	}
	return &Pool{
		min:       min,
		max:       max,
		allocated: make(map[int]bool),
	}, nil
}

// Allocate scans the range in ascending order and leases the first free
// port. Concurrent callers observe linearizable allocation: no two
// concurrent calls ever return the same port.
func (p *Pool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.min; port <= p.max; port++ {
		if !p.allocated[port] {
			p.allocated[port] = true
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Release returns a port to the pool. Releasing a port that is not leased
// is a no-op, logged at warning level.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allocated[port] {
		log.Printf("portpool: release of unallocated port %d ignored", port)
		return
	}
	delete(p.allocated, port)
}

// Available reports how many ports in the range are currently unleased.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.max - p.min + 1) - len(p.allocated)
}

// Size reports the total number of ports in the configured range.
func (p *Pool) Size() int {
	return p.max - p.min + 1
}
