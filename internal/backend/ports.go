// ABOUTME: Port allocation for backend processes
// ABOUTME: Ascending scan of a half-open range against the live record set

package backend

import (
	"net"
	"strconv"
)

// PortAllocator hands out the lowest free port in [min, max).
type PortAllocator struct {
	min, max int
	probe    bool
	free     func(port int) bool
}

// NewPortAllocator creates an allocator for [min, max). With probe set, ports that
// something outside the orchestrator is already listening on are skipped too.
func NewPortAllocator(min, max int, probe bool) *PortAllocator {
	return &PortAllocator{min: min, max: max, probe: probe, free: portFree}
}

// Next returns the lowest port not in inUse, or ErrNoCapacity.
func (a *PortAllocator) Next(inUse map[int]struct{}) (int, error) {
	for p := a.min; p < a.max; p++ {
		if _, taken := inUse[p]; taken {
			continue
		}
		if a.probe && !a.free(p) {
			continue
		}
		return p, nil
	}
	return 0, ErrNoCapacity
}

// Capacity returns the size of the range.
func (a *PortAllocator) Capacity() int {
	return max(a.max-a.min, 0)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
