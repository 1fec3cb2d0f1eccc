package tunnel

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

const (
	DefaultPortMin = 20000
	DefaultPortMax = 20999
)

// PortAllocator hands out local ports from a bounded range. The cursor wraps
// around at the end of the range and ports that fail to bind are skipped.
type PortAllocator struct {
	mu   sync.Mutex
	min  int
	max  int
	next int
	host string
}

// NewPortAllocator returns an allocator over [min, max]. Zero values select the
// default range.
func NewPortAllocator(min, max int) *PortAllocator {
	if min <= 0 {
		min = DefaultPortMin
	}
	if max <= 0 || max < min {
		max = min + (DefaultPortMax - DefaultPortMin)
	}
	return &PortAllocator{min: min, max: max, next: min, host: "127.0.0.1"}
}

// Listen binds the next free port in range. Every port is tried at most once
// per call.
func (p *PortAllocator) Listen() (net.Listener, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.max - p.min + 1
	var lastErr error
	for i := 0; i < size; i++ {
		port := p.next
		p.next++
		if p.next > p.max {
			p.next = p.min
		}

		ln, err := net.Listen("tcp", net.JoinHostPort(p.host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("no free local port in %d-%d: %w", p.min, p.max, lastErr)
}
