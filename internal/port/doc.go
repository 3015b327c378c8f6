// Package port implements host port availability scanning and
// collision-free allocation for job service containers.
//
// When a job declares services with published ports, concurrent matrix
// cells would otherwise race for the same host port. The Allocator
// hands the requested port to the first taker and moves later takers to
// a free port, probing the OS with net.Listen so ports held by
// unrelated processes are also avoided.
package port
