// Package sequencer implements the ordered shutdown pipeline: VMs,
// containers, filesystem sync, unmount, remote peers, final sync, and local
// poweroff, none able to abort the stages after it (spec §4.6). The
// container, unmount, remote-peer and local-poweroff calls carry their own
// timeouts and the VM stage's graceful wait is bounded by vm_max_wait; the
// two sync stages and the individual VM controller calls have no timeout of
// their own.
package sequencer

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/capability"
	"github.com/sweeney/ups-guardian/internal/config"
	"github.com/sweeney/ups-guardian/internal/dispatch"
	"github.com/sweeney/ups-guardian/internal/persist"
)

// Collaborators bundles every capability interface the Sequencer consumes.
// Any field may be nil, meaning that stage is unavailable and its work is
// skipped. A nil Local differs from a disabled local_shutdown in stage 8:
// it is logged as an error and the latch stays set.
type Collaborators struct {
	VMs        capability.VMController
	Containers capability.ContainerController
	Users      capability.UserLister
	Unmounter  capability.Unmounter
	Remote     capability.RemoteShutdown
	Local      capability.LocalShutdown
}

// Sequencer runs the shutdown pipeline described in spec §4.6.
type Sequencer struct {
	cfg   *config.Config
	latch *persist.ShutdownLatch
	disp  *dispatch.Dispatcher
	log   zerolog.Logger
	coll  Collaborators
}

// New creates a Sequencer. latch must be the same instance the Dispatcher
// consults, so the Dispatcher's mode switch observes the Sequencer's Set
// call (spec §3).
func New(cfg *config.Config, latch *persist.ShutdownLatch, disp *dispatch.Dispatcher, coll Collaborators, log zerolog.Logger) *Sequencer {
	return &Sequencer{cfg: cfg, latch: latch, disp: disp, coll: coll, log: log}
}

// Run executes every stage in order. It keeps no record of earlier calls:
// calling it again runs every stage again, and concurrent calls are not
// guarded against (the supervisor invokes it from its single tick
// goroutine, per spec §5).
func (s *Sequencer) Run(ctx context.Context, reason string) {
	dryRun := s.cfg.Behavior.DryRun

	s.stage1SetLatchAndBroadcast(ctx, reason, dryRun)
	s.stage2VMs(ctx, dryRun)
	s.stage3Containers(ctx, dryRun)
	s.stage4FilesystemSync(dryRun)
	s.stage5Unmount(ctx, dryRun)
	s.stage6RemotePeers(ctx, dryRun)
	s.stage7FinalSync(dryRun)
	s.stage8LocalPoweroff(ctx, dryRun)
}

func (s *Sequencer) stage1SetLatchAndBroadcast(ctx context.Context, reason string, dryRun bool) {
	if err := s.latch.Set(); err != nil {
		s.log.Error().Err(err).Msg("sequencer: failed to set shutdown latch")
	}

	message := reason
	if dryRun {
		message = "[DRY-RUN] " + message
	}
	s.log.Warn().Str("reason", reason).Bool("dry_run", dryRun).Msg("sequencer: shutdown sequence starting")

	if s.coll.Local == nil {
		return
	}
	if dryRun {
		s.log.Info().Str("message", message).Msg("sequencer: would broadcast wall message")
		return
	}
	if err := s.coll.Local.Broadcast(ctx, message); err != nil {
		s.log.Warn().Err(err).Msg("sequencer: broadcast failed")
	}
}

func (s *Sequencer) stage2VMs(ctx context.Context, dryRun bool) {
	cfg := s.cfg.VirtualMachines
	if !cfg.Enabled || s.coll.VMs == nil {
		s.log.Info().Msg("sequencer: VM stage skipped (disabled or unavailable)")
		return
	}

	vms, err := s.coll.VMs.ListRunning(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("sequencer: listing running VMs failed")
		return
	}

	for _, vm := range vms {
		if dryRun {
			s.log.Info().Int("vm_id", vm.ID).Str("vm_name", vm.Name).Msg("sequencer: would shut down VM")
			continue
		}
		if err := s.coll.VMs.Shutdown(ctx, vm); err != nil {
			s.log.Warn().Err(err).Int("vm_id", vm.ID).Msg("sequencer: graceful VM shutdown request failed")
		}
	}

	if dryRun {
		return
	}

	deadline := time.Now().Add(cfg.MaxWait.Duration)
	for time.Now().Before(deadline) {
		survivors, err := s.coll.VMs.ListRunning(ctx)
		if err != nil || len(survivors) == 0 {
			return
		}
		time.Sleep(5 * time.Second)
	}

	survivors, err := s.coll.VMs.ListRunning(ctx)
	if err != nil {
		return
	}
	for _, vm := range survivors {
		if err := s.coll.VMs.ForceStop(ctx, vm); err != nil {
			s.log.Warn().Err(err).Int("vm_id", vm.ID).Msg("sequencer: force-destroy of surviving VM failed")
		}
	}
}

func (s *Sequencer) stage3Containers(ctx context.Context, dryRun bool) {
	cfg := s.cfg.Containers
	if !cfg.Enabled || s.coll.Containers == nil {
		s.log.Info().Msg("sequencer: container stage skipped (disabled or unavailable)")
		return
	}

	runtime := cfg.Runtime
	if runtime == "" || runtime == "auto" {
		detected, ok := s.coll.Containers.DetectRuntime(ctx)
		if !ok {
			s.log.Warn().Msg("sequencer: no container runtime available, skipping")
			return
		}
		runtime = detected
	}

	s.stopComposeProjects(ctx, runtime, cfg, dryRun)

	if !cfg.ShutdownAllRemainingContainers {
		return
	}

	s.stopRunningContainers(ctx, runtime, cfg.StopTimeout.Duration, dryRun)

	if cfg.IncludeUserContainers && s.coll.Users != nil {
		s.stopUserContainers(ctx, runtime, cfg.StopTimeout.Duration, dryRun)
	}
}

// stopComposeProjects brings down every configured compose project ahead of
// the generic per-container sweep, per spec's compose_files expansion.
func (s *Sequencer) stopComposeProjects(ctx context.Context, runtime string, cfg config.ContainersConfig, dryRun bool) {
	for _, cf := range cfg.ComposeFiles {
		timeout := cfg.StopTimeout.Duration
		if cf.StopTimeout.Duration > 0 {
			timeout = cf.StopTimeout.Duration
		}
		if dryRun {
			s.log.Info().Str("compose_file", cf.Path).Msg("sequencer: would stop compose project")
			continue
		}
		if err := s.coll.Containers.StopCompose(ctx, runtime, cf.Path, timeout); err != nil {
			s.log.Warn().Err(err).Str("compose_file", cf.Path).Msg("sequencer: stopping compose project failed")
		}
	}
}

// stopRunningContainers is the generic system-wide container sweep.
func (s *Sequencer) stopRunningContainers(ctx context.Context, runtime string, stopTimeout time.Duration, dryRun bool) {
	ids, err := s.coll.Containers.ListRunning(ctx, runtime)
	if err != nil {
		s.log.Warn().Err(err).Str("runtime", runtime).Msg("sequencer: listing containers failed")
		return
	}

	for _, id := range ids {
		if dryRun {
			s.log.Info().Str("container_id", id).Msg("sequencer: would stop container")
			continue
		}
		if err := s.coll.Containers.Stop(ctx, runtime, id, stopTimeout); err != nil {
			s.log.Warn().Err(err).Str("container_id", id).Msg("sequencer: stopping container failed")
		}
	}
}

// stopUserContainers iterates every non-system user (uid >= 1000) and stops
// their rootless containers via "sudo -u <user> <runtime> ps/stop", per
// spec §4.6 stage 3's optional rootless-iteration behavior.
func (s *Sequencer) stopUserContainers(ctx context.Context, runtime string, stopTimeout time.Duration, dryRun bool) {
	users, err := s.coll.Users.NonSystemUsers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("sequencer: listing non-system users failed, skipping rootless container sweep")
		return
	}

	for _, user := range users {
		ids, err := s.coll.Containers.ListRunningAsUser(ctx, runtime, user)
		if err != nil {
			s.log.Warn().Err(err).Str("user", user).Msg("sequencer: listing rootless containers failed")
			continue
		}
		for _, id := range ids {
			if dryRun {
				s.log.Info().Str("user", user).Str("container_id", id).Msg("sequencer: would stop rootless container")
				continue
			}
			if err := s.coll.Containers.StopAsUser(ctx, runtime, user, id, stopTimeout); err != nil {
				s.log.Warn().Err(err).Str("user", user).Str("container_id", id).Msg("sequencer: stopping rootless container failed")
			}
		}
	}
}

func (s *Sequencer) stage4FilesystemSync(dryRun bool) {
	if !s.cfg.Filesystems.SyncEnabled {
		return
	}
	if dryRun {
		s.log.Info().Msg("sequencer: would sync filesystems")
		return
	}
	syncFilesystems()
}

func (s *Sequencer) stage5Unmount(ctx context.Context, dryRun bool) {
	cfg := s.cfg.Filesystems.Unmount
	if !cfg.Enabled || s.coll.Unmounter == nil {
		return
	}

	for _, mount := range cfg.Mounts {
		if dryRun {
			s.log.Info().Str("path", mount.Path).Msg("sequencer: would unmount")
			continue
		}

		err := s.coll.Unmounter.Unmount(ctx, mount.Path, cfg.Timeout.Duration)
		if err == nil {
			continue
		}

		stillMounted, statErr := s.coll.Unmounter.IsMounted(mount.Path)
		if statErr == nil && !stillMounted {
			s.log.Info().Str("path", mount.Path).Msg("sequencer: unmount reported failure but mount is already gone")
			continue
		}
		s.log.Warn().Err(err).Str("path", mount.Path).Msg("sequencer: unmount failed")
	}
}

func (s *Sequencer) stage6RemotePeers(ctx context.Context, dryRun bool) {
	if s.coll.Remote == nil {
		return
	}
	for _, peer := range s.cfg.RemoteServers {
		if !peer.Enabled {
			continue
		}
		if dryRun {
			s.log.Info().Str("peer", peer.Name).Msg("sequencer: would shut down remote peer")
			continue
		}

		key, err := os.ReadFile(peer.PrivateKeyPath)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", peer.Name).Msg("sequencer: reading private key failed")
			continue
		}
		if err := s.coll.Remote.Shutdown(ctx, peer, key); err != nil {
			s.log.Warn().Err(err).Str("peer", peer.Name).Msg("sequencer: remote shutdown failed")
		}
	}
}

func (s *Sequencer) stage7FinalSync(dryRun bool) {
	if !s.cfg.Filesystems.SyncEnabled {
		return
	}
	if dryRun {
		s.log.Info().Msg("sequencer: would perform final sync")
		return
	}
	syncFilesystems()
}

func (s *Sequencer) stage8LocalPoweroff(ctx context.Context, dryRun bool) {
	cfg := s.cfg.LocalShutdown

	if !cfg.Enabled {
		if err := s.latch.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("sequencer: clearing latch failed")
		}
		return
	}

	if s.disp != nil {
		s.disp.Send("shutdown sequence complete, powering off", dispatch.Success)
	}

	if dryRun {
		s.log.Info().Str("command", cfg.Command).Msg("sequencer: would power off")
		if err := s.latch.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("sequencer: clearing latch failed")
		}
		return
	}

	if s.coll.Local == nil {
		s.log.Error().Msg("sequencer: local poweroff enabled but no LocalShutdown collaborator configured")
		return
	}
	if err := s.coll.Local.Poweroff(ctx, cfg.Command, cfg.Message); err != nil {
		s.log.Error().Err(err).Msg("sequencer: poweroff invocation failed")
	}
	// No latch clear here: a successful poweroff means the process does not
	// return control, per spec §4.6 stage 8.
}

// syncFilesystems invokes the sync(2) equivalent. Exposed as a package
// function (not a capability) because it has no meaningful failure mode
// worth injecting a fake for: sync(1) has no exit-code contract to test
// against, unlike every other stage's collaborator.
func syncFilesystems() {
	_ = exec.Command("sync").Run()
}
