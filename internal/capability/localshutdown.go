package capability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LocalShutdown hands off to the OS poweroff. This is the Sequencer's final
// stage and, in production, does not return control (spec §4.6 stage 8).
type LocalShutdown interface {
	Broadcast(ctx context.Context, message string) error
	Poweroff(ctx context.Context, command, message string) error
}

// ExecLocalShutdown shells out to `wall` for broadcast and the configured
// shutdown command for poweroff.
type ExecLocalShutdown struct {
	Runner ProcessRunner
}

// Broadcast runs `wall message`, tolerating a missing wall binary (some
// minimal containers/images don't ship it) without treating it as fatal.
func (e ExecLocalShutdown) Broadcast(ctx context.Context, message string) error {
	exitCode, _, stderr, err := e.Runner.Run(ctx, []string{"wall", message}, 5*time.Second)
	if exitCode == ExitNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("broadcasting wall message: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("wall exited %d: %s", exitCode, stderr)
	}
	return nil
}

// Poweroff runs the configured shutdown command, e.g. "shutdown -h now".
// On success this call does not return in practice, because the host is
// powering off; the timeout here only bounds the case where the command
// itself fails to launch.
func (e ExecLocalShutdown) Poweroff(ctx context.Context, command, message string) error {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return fmt.Errorf("empty poweroff command")
	}
	if message != "" {
		argv = append(argv, message)
	}

	exitCode, _, stderr, err := e.Runner.Run(ctx, argv, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invoking poweroff: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", command, exitCode, stderr)
	}
	return nil
}
