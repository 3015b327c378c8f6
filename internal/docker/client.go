package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// defaultPingTimeout bounds the wait for a Docker daemon response during
// Ping. Five seconds is generous for a local daemon but still fails a
// run promptly when Docker is simply not up.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client used for container
// lifecycle operations (list, stop, remove) on gantry-managed
// containers. The runner creates one lazily, the first time a workflow
// actually needs container execution, so host-only runs never require a
// daemon.
type Client struct {
	// inner is the underlying SDK client. Wrapped rather than embedded
	// to keep the exposed API surface under control.
	inner *client.Client
}

// NewClient creates a Docker client, resolving the daemon address from
// DOCKER_HOST when set and falling back to the platform's default
// socket locations otherwise.
//
// Returns a model.CLIError with ExitDockerNotRunning if no socket is
// found or the client cannot be created; connectivity itself is checked
// separately by Ping.
func NewClient() (*Client, error) {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return newClientWithHost(host)
	}

	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker socket not found",
			err,
		)
	}
	return newClientWithHost(host)
}

// newClientWithHost creates a client for a specific Docker connection
// string. API version negotiation keeps us compatible with whatever
// daemon version the host runs.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// detectDockerHost probes the socket locations the current platform is
// known to use and returns the first that exists. Existence is checked
// with os.Stat rather than a connection attempt; Ping handles
// connectivity.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
		})

	case "darwin":
		// Docker Desktop only symlinks /var/run/docker.sock when the
		// user allowed it during setup; the per-user socket always
		// exists, so both are tried.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{
				"/var/run/docker.sock",
			})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat cannot see named pipes; a brief dial is the only
		// reliable existence check.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the Docker host URI for the first socket
// path that exists, checked in preference order.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf(
		"Docker socket not found at any of: %v — is Docker running?",
		paths,
	)
}

// Ping verifies the daemon is actually answering before a run commits
// to container execution, waiting at most defaultPingTimeout. Returns a
// model.CLIError with ExitDockerNotRunning on failure.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding — is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the client's resources. Safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner exposes the underlying SDK client for list/stop/remove calls in
// container.go. Callers outside this package should prefer Client
// methods when one exists.
func (c *Client) Inner() *client.Client {
	return c.inner
}
