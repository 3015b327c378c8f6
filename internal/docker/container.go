// container.go implements the container lifecycle for containerized
// jobs: one long-lived container per matrix cell with the repository
// mounted at /workspace, steps executed inside it via docker exec, and
// service sidecars with published host ports.
//
// Creation goes through the docker CLI (`docker run`, `docker exec`)
// because assembling Config/HostConfig structs for the SDK's
// ContainerCreate adds complexity without adding capability here, while
// the CLI accepts the flags operators already know. Listing, stopping,
// and removing use the SDK, where the typed API is the better fit.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// workspaceDir is where the repository is mounted inside job containers.
const workspaceDir = "/workspace"

// ContainerInfo holds runtime information about a gantry-managed
// container, fetched from the Docker API.
type ContainerInfo struct {
	// ID is the Docker container identifier.
	ID string `json:"id"`

	// Name is the container name without the API's leading slash.
	Name string `json:"name"`

	// Status is the short Docker state ("running", "exited", "created").
	Status string `json:"status"`

	// Labels is the full label map, including gantry.* keys.
	Labels map[string]string `json:"labels,omitempty"`
}

// ListManaged queries the daemon for all containers carrying the
// gantry managed-by label, including stopped ones — leftovers from
// interrupted runs are exactly what "gantry clean" needs to see.
func ListManaged(ctx context.Context, cli *Client) ([]ContainerInfo, error) {
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerToInfo(c))
	}
	return result, nil
}

// containerToInfo converts an SDK container struct to ContainerInfo.
// Docker returns names with a leading "/" that is an API artifact, so
// it is stripped for display.
func containerToInfo(c types.Container) ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return ContainerInfo{
		ID:     c.ID,
		Name:   name,
		Status: c.State,
		Labels: c.Labels,
	}
}

// GroupByRun groups managed containers by their run ID label. Containers
// without the label are skipped; ListManaged's filter should make that
// impossible.
func GroupByRun(containers []ContainerInfo) map[string][]ContainerInfo {
	groups := make(map[string][]ContainerInfo)
	for _, c := range containers {
		runID := c.Labels[LabelRunID]
		if runID == "" {
			continue
		}
		groups[runID] = append(groups[runID], c)
	}
	return groups
}

// PortBinding publishes a container port on a host port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// StartJobContainer creates and starts the long-lived container a
// cell's steps execute in. The repository is bind-mounted read-write at
// /workspace, which is also the working directory. The container idles
// on `tail -f /dev/null` until RemoveContainer tears it down.
//
// Returns the container name, which subsequent ExecStep calls address.
func StartJobContainer(ctx context.Context, image, name, repoDir string, labels RunLabels, env map[string]string) (string, error) {
	args := []string{"run", "-d", "--name", name}
	args = append(args, labelArgs(labels)...)
	args = append(args, envArgs(env)...)
	args = append(args,
		"-v", repoDir+":"+workspaceDir,
		"-w", workspaceDir,
		image,
		"tail", "-f", "/dev/null",
	)

	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("docker run failed for job container %q: %s", name, strings.TrimSpace(string(output))),
			err,
		)
	}
	return name, nil
}

// StartServiceContainer creates and starts a service sidecar with its
// ports published on the host.
func StartServiceContainer(ctx context.Context, image, name string, labels RunLabels, env map[string]string, ports []PortBinding) error {
	args := []string{"run", "-d", "--name", name}
	args = append(args, labelArgs(labels)...)
	args = append(args, envArgs(env)...)
	for _, p := range ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort))
	}
	args = append(args, image)

	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("docker run failed for service container %q: %s", name, strings.TrimSpace(string(output))),
			err,
		)
	}
	return nil
}

// ExecStep runs one step script inside a job container and returns the
// combined output and the script's exit code.
//
// `docker exec` propagates the exec'd command's exit code, so a
// non-zero step surfaces as an *exec.ExitError whose code is the
// step's own. Any other error kind means the exec could not happen at
// all (daemon gone, container removed) and is returned as an error.
func ExecStep(ctx context.Context, containerName, shell, script, workdir string, env map[string]string) ([]byte, int, error) {
	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, envArgs(env)...)
	args = append(args, containerName, shell, "-c", script)

	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, exitErr.ExitCode(), nil
	}

	return output, -1, model.WrapCLIError(
		model.ExitDockerNotRunning,
		fmt.Sprintf("docker exec failed in container %q: %s", containerName, strings.TrimSpace(string(output))),
		err,
	)
}

// StopContainer stops a running container via the SDK, giving it the
// daemon's default graceful-shutdown window before SIGKILL.
func StopContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", containerID),
			err,
		)
	}
	return nil
}

// RemoveContainer removes a container via the SDK. With force, the
// container is killed first, which is what run teardown wants.
func RemoveContainer(ctx context.Context, cli *Client, containerID string, force bool) error {
	if err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", containerID),
			err,
		)
	}
	return nil
}

// labelArgs renders --label flags in sorted key order so generated
// docker commands are stable, which keeps verbose output diffable.
func labelArgs(labels RunLabels) []string {
	m := labels.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--label", k+"="+m[k])
	}
	return args
}

// envArgs renders -e flags in sorted key order.
func envArgs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "-e", k+"="+env[k])
	}
	return args
}
