package port

import (
	"fmt"
	"net"
)

// Scanner checks whether specific host ports are available.
//
// It asks the operating system directly via net.Listen rather than
// parsing /proc/net/* or shelling out to `ss`, which may need elevated
// permissions. The struct is stateless but defined as a struct so it
// stays injectable into the Allocator for tests.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsAvailable reports whether a TCP port is free on the host.
//
// We bind to all interfaces (":port" rather than "127.0.0.1:port")
// because Docker publishes ports on 0.0.0.0, so the check must cover
// the same address space to avoid false positives.
func (s *Scanner) IsAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	// The listener existed only to test availability.
	defer func() { _ = listener.Close() }()
	return true
}

// Ephemeral asks the kernel for a free port by binding to port 0 and
// reading back the assigned address. The listener is closed before
// returning, so the port is free for the caller — the usual benign
// race between close and reuse applies.
func (s *Scanner) Ephemeral() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to probe for a free port: %w", err)
	}
	defer func() { _ = listener.Close() }()

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", listener.Addr())
	}
	return addr.Port, nil
}
