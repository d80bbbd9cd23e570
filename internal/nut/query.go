package nut

import "context"

// Poller abstracts the raw NUT variable fetch so tests can inject a fake.
type Poller interface {
	Poll() ([]Variable, error)
	Close() error
}

// UpsQuery is the capability interface named in spec §6: a single snapshot
// of all UPS key/value pairs, classified into Ok/Stale/Unreachable, plus a
// startup-only single-variable lookup used to discover voltage thresholds.
type UpsQuery interface {
	Snapshot(ctx context.Context) (Outcome, Sample, error)
	Var(ctx context.Context, key string) (string, bool)
}
