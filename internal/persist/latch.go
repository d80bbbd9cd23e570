package persist

import (
	"os"
	"sync/atomic"
)

// ShutdownLatch is the process-wide durable marker described in spec §3: a
// filesystem path whose existence is the source of truth for external
// observers, backed by an in-memory atomic flag so hot-path reads (the
// Dispatcher's mode switch, the power monitors' suppression check) never
// need to stat the filesystem per event (spec §9).
//
// Only the Sequencer may call Set; everything else only reads.
type ShutdownLatch struct {
	path string
	set  atomic.Bool
}

// NewShutdownLatch returns a latch backed by path. If a latch file already
// exists at path (e.g. a crash mid-shutdown left it behind), the in-memory
// flag starts set so a restarted supervisor doesn't treat a genuinely
// in-progress shutdown as finished.
func NewShutdownLatch(path string) *ShutdownLatch {
	l := &ShutdownLatch{path: path}
	if _, err := os.Stat(path); err == nil {
		l.set.Store(true)
	}
	return l
}

// Set creates the latch file (zero bytes is valid, per spec §6) and flips
// the in-memory flag. Safe to call more than once; file creation is
// idempotent.
func (l *ShutdownLatch) Set() error {
	l.set.Store(true)
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Clear removes the latch file and resets the in-memory flag. Called only
// on dry-run completion or on supervisor exit paths where no real shutdown
// occurred (spec §3).
func (l *ShutdownLatch) Clear() error {
	l.set.Store(false)
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsSet reports the in-memory flag, satisfying dispatch.Latch without a
// filesystem stat on every check.
func (l *ShutdownLatch) IsSet() bool {
	return l.set.Load()
}
