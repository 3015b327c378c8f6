// Package docker wraps the Docker Engine SDK for container-isolated job
// execution.
//
// Each containerized matrix cell gets one long-lived container with the
// repository mounted at /workspace; steps are executed inside it with
// docker exec. Service containers (databases etc.) run alongside with
// published host ports. Every container gantry creates carries gantry.*
// labels, which are the sole persistence mechanism: "gantry ps" and
// "gantry clean" reconstruct run state purely from label queries.
package docker
