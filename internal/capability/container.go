package capability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ContainerController lists and stops containers for the detected runtime
// (spec §4.6 stage 3).
type ContainerController interface {
	// DetectRuntime picks podman over docker when both are present and auto
	// is requested, per spec §9's runtime auto-detection note.
	DetectRuntime(ctx context.Context) (runtime string, ok bool)
	ListRunning(ctx context.Context, runtime string) ([]string, error)
	Stop(ctx context.Context, runtime, containerID string, stopTimeout time.Duration) error

	// StopCompose brings down a compose project ("<runtime> compose -f
	// path down"), ahead of the generic per-container sweep.
	StopCompose(ctx context.Context, runtime, composeFilePath string, stopTimeout time.Duration) error

	// ListRunningAsUser and StopAsUser mirror ListRunning/Stop, but run the
	// runtime CLI as user via "sudo -u <user>", for rootless per-user
	// container sessions (config.ContainersConfig.IncludeUserContainers).
	ListRunningAsUser(ctx context.Context, runtime, user string) ([]string, error)
	StopAsUser(ctx context.Context, runtime, user, containerID string, stopTimeout time.Duration) error
}

// ExecContainerController shells out to the podman/docker CLI via a
// ProcessRunner, mirroring spec §4.6's literal "stop with -t" contract —
// there is no typed client here because the stage is specified at the CLI
// flag level, not an API level.
type ExecContainerController struct {
	Runner        ProcessRunner
	CommandExists CommandExists
}

// DetectRuntime prefers podman, falling back to docker, per spec §9.
func (c ExecContainerController) DetectRuntime(_ context.Context) (string, bool) {
	if c.CommandExists("podman") {
		return "podman", true
	}
	if c.CommandExists("docker") {
		return "docker", true
	}
	return "", false
}

// ListRunning returns the IDs of running containers for runtime.
func (c ExecContainerController) ListRunning(ctx context.Context, runtime string) ([]string, error) {
	exitCode, stdout, stderr, err := c.Runner.Run(ctx, []string{runtime, "ps", "-q"}, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("listing %s containers: %w", runtime, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s ps exited %d: %s", runtime, exitCode, stderr)
	}

	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// Stop stops containerID with a grace period of stopTimeout, budgeted at
// stopTimeout+30s overall per spec §4.6.
func (c ExecContainerController) Stop(ctx context.Context, runtime, containerID string, stopTimeout time.Duration) error {
	budget := stopTimeout + 30*time.Second
	exitCode, _, stderr, err := c.Runner.Run(ctx,
		[]string{runtime, "stop", "-t", fmt.Sprintf("%d", int(stopTimeout.Seconds())), containerID},
		budget)
	if err != nil {
		return fmt.Errorf("stopping container %s: %w", containerID, err)
	}
	if exitCode == ExitTimeout {
		return fmt.Errorf("stopping container %s: timed out after %s", containerID, budget)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s stop %s exited %d: %s", runtime, containerID, exitCode, stderr)
	}
	return nil
}

// StopCompose runs "<runtime> compose -f composeFilePath down -t <timeout>",
// budgeted the same way Stop is.
func (c ExecContainerController) StopCompose(ctx context.Context, runtime, composeFilePath string, stopTimeout time.Duration) error {
	budget := stopTimeout + 30*time.Second
	exitCode, _, stderr, err := c.Runner.Run(ctx,
		[]string{runtime, "compose", "-f", composeFilePath, "down", "-t", fmt.Sprintf("%d", int(stopTimeout.Seconds()))},
		budget)
	if err != nil {
		return fmt.Errorf("stopping compose project %s: %w", composeFilePath, err)
	}
	if exitCode == ExitTimeout {
		return fmt.Errorf("stopping compose project %s: timed out after %s", composeFilePath, budget)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s compose -f %s down exited %d: %s", runtime, composeFilePath, exitCode, stderr)
	}
	return nil
}

// ListRunningAsUser lists runtime's running containers under user's
// rootless session via "sudo -u <user> <runtime> ps -q".
func (c ExecContainerController) ListRunningAsUser(ctx context.Context, runtime, user string) ([]string, error) {
	exitCode, stdout, stderr, err := c.Runner.Run(ctx, []string{"sudo", "-u", user, runtime, "ps", "-q"}, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("listing %s containers for user %s: %w", runtime, user, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("sudo -u %s %s ps exited %d: %s", user, runtime, exitCode, stderr)
	}

	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// StopAsUser stops containerID under user's rootless session via
// "sudo -u <user> <runtime> stop -t <timeout> <id>".
func (c ExecContainerController) StopAsUser(ctx context.Context, runtime, user, containerID string, stopTimeout time.Duration) error {
	budget := stopTimeout + 30*time.Second
	exitCode, _, stderr, err := c.Runner.Run(ctx,
		[]string{"sudo", "-u", user, runtime, "stop", "-t", fmt.Sprintf("%d", int(stopTimeout.Seconds())), containerID},
		budget)
	if err != nil {
		return fmt.Errorf("stopping container %s for user %s: %w", containerID, user, err)
	}
	if exitCode == ExitTimeout {
		return fmt.Errorf("stopping container %s for user %s: timed out after %s", containerID, user, budget)
	}
	if exitCode != 0 {
		return fmt.Errorf("sudo -u %s %s stop %s exited %d: %s", user, runtime, containerID, exitCode, stderr)
	}
	return nil
}
