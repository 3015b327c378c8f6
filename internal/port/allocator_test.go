package port

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScanner_Ephemeral verifies the kernel hands back a usable port
// number.
func TestScanner_Ephemeral(t *testing.T) {
	s := NewScanner()

	p, err := s.Ephemeral()
	require.NoError(t, err)
	assert.Greater(t, p, 0)
	assert.LessOrEqual(t, p, maxPort)
}

// TestScanner_IsAvailable verifies a bound port reads as unavailable
// and is available again after release.
func TestScanner_IsAvailable(t *testing.T) {
	s := NewScanner()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	bound := listener.Addr().(*net.TCPAddr).Port

	assert.False(t, s.IsAvailable(bound), "a bound port must not read as available")

	require.NoError(t, listener.Close())
	assert.True(t, s.IsAvailable(bound), "a released port must read as available")
}

// TestAllocate_GrantsRequestedPort verifies a free requested port is
// granted as-is.
func TestAllocate_GrantsRequestedPort(t *testing.T) {
	a := NewAllocator(NewScanner())

	// Ask the kernel for a port that is known to be free right now.
	free, err := NewScanner().Ephemeral()
	require.NoError(t, err)

	alloc, err := a.Allocate("postgres", 5432, free)
	require.NoError(t, err)
	assert.Equal(t, free, alloc.HostPort)
	assert.Equal(t, 5432, alloc.ContainerPort)
	assert.Equal(t, "postgres", alloc.Service)
}

// TestAllocate_DuplicateRequestFallsBack verifies two allocations asking
// for the same host port do not collide: the second gets an alternative.
func TestAllocate_DuplicateRequestFallsBack(t *testing.T) {
	a := NewAllocator(NewScanner())

	free, err := NewScanner().Ephemeral()
	require.NoError(t, err)

	first, err := a.Allocate("redis", 6379, free)
	require.NoError(t, err)
	second, err := a.Allocate("redis", 6379, free)
	require.NoError(t, err)

	assert.Equal(t, free, first.HostPort)
	assert.NotEqual(t, first.HostPort, second.HostPort,
		"the second allocation must not reuse a reserved port")
}

// TestAllocate_BoundPortFallsBack verifies a requested port that is busy
// on the host is replaced with an ephemeral one.
func TestAllocate_BoundPortFallsBack(t *testing.T) {
	a := NewAllocator(NewScanner())

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()
	busy := listener.Addr().(*net.TCPAddr).Port

	alloc, err := a.Allocate("web", 8080, busy)
	require.NoError(t, err)
	assert.NotEqual(t, busy, alloc.HostPort)
}

// TestAllocate_ZeroMeansEphemeral verifies requesting no specific port
// yields a kernel-assigned one.
func TestAllocate_ZeroMeansEphemeral(t *testing.T) {
	a := NewAllocator(NewScanner())

	alloc, err := a.Allocate("db", 5432, 0)
	require.NoError(t, err)
	assert.Greater(t, alloc.HostPort, 0)
}

// TestAllocate_RangeChecks verifies out-of-range ports are rejected.
func TestAllocate_RangeChecks(t *testing.T) {
	a := NewAllocator(NewScanner())

	_, err := a.Allocate("svc", 0, 0)
	assert.Error(t, err, "container port 0 is invalid")
	_, err = a.Allocate("svc", 70000, 0)
	assert.Error(t, err)
	_, err = a.Allocate("svc", 80, -1)
	assert.Error(t, err)
	_, err = a.Allocate("svc", 80, 70000)
	assert.Error(t, err)
}

// TestRelease verifies a released reservation can be granted again.
func TestRelease(t *testing.T) {
	a := NewAllocator(NewScanner())

	free, err := NewScanner().Ephemeral()
	require.NoError(t, err)

	first, err := a.Allocate("db", 5432, free)
	require.NoError(t, err)
	a.Release(first.HostPort)

	second, err := a.Allocate("db", 5432, free)
	require.NoError(t, err)
	assert.Equal(t, free, second.HostPort)
}

// TestAllocationString verifies the display rendering.
func TestAllocationString(t *testing.T) {
	alloc := Allocation{Service: "postgres", ContainerPort: 5432, HostPort: 15432}
	assert.Equal(t, "postgres:5432 → 15432", alloc.String())
}
