package capability

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/ups-guardian/internal/config"
)

// FakeProcessRunner is a test double for ProcessRunner.
type FakeProcessRunner struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Calls    [][]string
}

func (f *FakeProcessRunner) Run(_ context.Context, argv []string, _ time.Duration) (int, string, string, error) {
	f.Calls = append(f.Calls, argv)
	return f.ExitCode, f.Stdout, f.Stderr, f.Err
}

// FakeVMController is a test double for VMController.
type FakeVMController struct {
	Running        []VM
	ListErr        error
	ShutdownErr    error // if set, Shutdown always fails (simulates the sequencer's partial-failure scenario)
	ForceStopErr   error
	ShutdownCalls  []VM
	ForceStopCalls []VM
}

func (f *FakeVMController) ListRunning(context.Context) ([]VM, error) { return f.Running, f.ListErr }

func (f *FakeVMController) Shutdown(_ context.Context, vm VM) error {
	f.ShutdownCalls = append(f.ShutdownCalls, vm)
	return f.ShutdownErr
}

func (f *FakeVMController) ForceStop(_ context.Context, vm VM) error {
	f.ForceStopCalls = append(f.ForceStopCalls, vm)
	return f.ForceStopErr
}

// FakeContainerController is a test double for ContainerController.
type FakeContainerController struct {
	Runtime   string
	RuntimeOK bool
	Running   []string
	ListErr   error
	StopErr   error
	StopCalls []string

	ComposeErr    error
	ComposeCalls  []string // composeFilePath values passed to StopCompose

	// UserRunning maps a user login to the container IDs running under
	// their rootless session.
	UserRunning      map[string][]string
	UserListErr      error
	UserStopErr      error
	UserStopCalls    []string // "user:id" pairs passed to StopAsUser
}

func (f *FakeContainerController) DetectRuntime(context.Context) (string, bool) {
	return f.Runtime, f.RuntimeOK
}

func (f *FakeContainerController) ListRunning(context.Context, string) ([]string, error) {
	return f.Running, f.ListErr
}

func (f *FakeContainerController) Stop(_ context.Context, _ string, id string, _ time.Duration) error {
	f.StopCalls = append(f.StopCalls, id)
	return f.StopErr
}

func (f *FakeContainerController) StopCompose(_ context.Context, _ string, composeFilePath string, _ time.Duration) error {
	f.ComposeCalls = append(f.ComposeCalls, composeFilePath)
	return f.ComposeErr
}

func (f *FakeContainerController) ListRunningAsUser(_ context.Context, _ string, user string) ([]string, error) {
	return f.UserRunning[user], f.UserListErr
}

func (f *FakeContainerController) StopAsUser(_ context.Context, _ string, user, id string, _ time.Duration) error {
	f.UserStopCalls = append(f.UserStopCalls, user+":"+id)
	return f.UserStopErr
}

// FakeUnmounter is a test double for Unmounter.
type FakeUnmounter struct {
	Mounted     map[string]bool
	UnmountErr  map[string]error
	UnmountCalls []string
}

func (f *FakeUnmounter) IsMounted(path string) (bool, error) {
	return f.Mounted[path], nil
}

func (f *FakeUnmounter) Unmount(_ context.Context, path string, _ time.Duration) error {
	f.UnmountCalls = append(f.UnmountCalls, path)
	if f.UnmountErr == nil {
		return nil
	}
	return f.UnmountErr[path]
}

// FakeRemoteShutdown is a test double for RemoteShutdown.
type FakeRemoteShutdown struct {
	Err   error
	Calls []string
}

func (f *FakeRemoteShutdown) Shutdown(_ context.Context, peer config.RemoteServerConfig, _ []byte) error {
	f.Calls = append(f.Calls, peer.Name)
	return f.Err
}

// FakeLocalShutdown is a test double for LocalShutdown.
type FakeLocalShutdown struct {
	BroadcastErr error
	PoweroffErr  error
	Broadcasts   []string
	PoweroffCalls int
}

func (f *FakeLocalShutdown) Broadcast(_ context.Context, message string) error {
	f.Broadcasts = append(f.Broadcasts, message)
	return f.BroadcastErr
}

func (f *FakeLocalShutdown) Poweroff(context.Context, string, string) error {
	f.PoweroffCalls++
	return f.PoweroffErr
}

// FakeUserLister is a test double for UserLister.
type FakeUserLister struct {
	Users []string
	Err   error
}

func (f *FakeUserLister) NonSystemUsers(context.Context) ([]string, error) {
	return f.Users, f.Err
}

// ErrSimulated is a generic sentinel for tests that don't care about the
// exact error value, only that one occurred.
var ErrSimulated = errors.New("simulated failure")
