package capability

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Unmounter unmounts a configured mountpoint, tolerating EBUSY and timeouts
// without aborting the sequence (spec §4.6 stage 5).
type Unmounter interface {
	IsMounted(path string) (bool, error)
	Unmount(ctx context.Context, path string, timeout time.Duration) error
}

// ExecUnmounter shells out to umount via a ProcessRunner.
type ExecUnmounter struct {
	Runner ProcessRunner
}

// IsMounted checks /proc/mounts for path, so a failed unmount caused by a
// mount that has already gone away can be demoted to an info log rather
// than an error, per spec §4.6.
func (ExecUnmounter) IsMounted(path string) (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, fmt.Errorf("reading /proc/mounts: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == path {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Unmount invokes `umount path`, bounded by timeout.
func (u ExecUnmounter) Unmount(ctx context.Context, path string, timeout time.Duration) error {
	exitCode, _, stderr, err := u.Runner.Run(ctx, []string{"umount", path}, timeout)
	if err != nil {
		return fmt.Errorf("unmounting %s: %w", path, err)
	}
	if exitCode == ExitTimeout {
		return fmt.Errorf("unmounting %s: timed out after %s", path, timeout)
	}
	if exitCode != 0 {
		return fmt.Errorf("umount %s exited %d: %s", path, exitCode, stderr)
	}
	return nil
}
