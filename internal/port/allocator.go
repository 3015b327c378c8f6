package port

import (
	"fmt"
	"sync"
)

// maxPort is the highest valid TCP port number (2^16 - 1).
const maxPort = 65535

// Allocation is a single host-to-container port mapping handed out by
// the Allocator.
type Allocation struct {
	// Service is the service name that owns the mapping.
	Service string

	// ContainerPort is the port inside the service container.
	ContainerPort int

	// HostPort is the port published on the host.
	HostPort int
}

// String renders the allocation as "service:container → host".
func (a Allocation) String() string {
	return fmt.Sprintf("%s:%d → %d", a.Service, a.ContainerPort, a.HostPort)
}

// Allocator hands out host ports without collisions.
//
// It is shared across all matrix cells of a run and is safe for
// concurrent use: two cells both asking for 5432 get 5432 and a free
// alternative respectively, in request order.
type Allocator struct {
	scanner *Scanner

	mu    sync.Mutex
	taken map[int]bool
}

// NewAllocator creates an Allocator backed by the given Scanner.
func NewAllocator(scanner *Scanner) *Allocator {
	return &Allocator{
		scanner: scanner,
		taken:   make(map[int]bool),
	}
}

// Allocate reserves a host port for a service's container port.
//
// If requested is non-zero, in range, unreserved, and free on the host,
// it is granted as-is. Otherwise the kernel picks a free ephemeral port.
// Either way the granted port is recorded so later allocations in the
// same run cannot receive it.
func (a *Allocator) Allocate(service string, containerPort, requested int) (Allocation, error) {
	if containerPort < 1 || containerPort > maxPort {
		return Allocation{}, fmt.Errorf("service %q: container port %d out of range (1-%d)", service, containerPort, maxPort)
	}
	if requested < 0 || requested > maxPort {
		return Allocation{}, fmt.Errorf("service %q: requested host port %d out of range (0-%d)", service, requested, maxPort)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hostPort := 0
	if requested != 0 && !a.taken[requested] && a.scanner.IsAvailable(requested) {
		hostPort = requested
	} else {
		// Fall back to a kernel-assigned port. Retry a few times in
		// case the ephemeral port collides with one we already handed
		// out but that is not bound yet.
		for attempt := 0; attempt < 8; attempt++ {
			p, err := a.scanner.Ephemeral()
			if err != nil {
				return Allocation{}, fmt.Errorf("service %q: %w", service, err)
			}
			if !a.taken[p] {
				hostPort = p
				break
			}
		}
		if hostPort == 0 {
			return Allocation{}, fmt.Errorf("service %q: could not find an unreserved host port", service)
		}
	}

	a.taken[hostPort] = true
	return Allocation{Service: service, ContainerPort: containerPort, HostPort: hostPort}, nil
}

// Release returns a host port to the pool. Used when a service container
// fails to start and its reservation would otherwise leak for the rest
// of the run.
func (a *Allocator) Release(hostPort int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.taken, hostPort)
}
