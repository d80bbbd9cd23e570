// Package depletion tracks a sliding window of battery-charge samples and
// computes the percent-per-minute discharge rate used by the trigger
// evaluator's depletion-rate predicate (spec §4.2).
package depletion

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sweeney/ups-guardian/internal/persist"
)

// MaxSamples bounds the in-memory window, per spec §3 (W=1000).
const MaxSamples = 1000

// MinSamplesForRate is the minimum sample count before Observe reports a
// non-zero rate, per spec §4.2 and invariant 5 in §8.
const MinSamplesForRate = 30

// sample is one (epoch-seconds, charge-percent) point.
type sample struct {
	t      int64
	charge float64
}

// Tracker is a bounded FIFO of charge samples with a fixed time window.
// It is not safe for concurrent use; callers serialize access (the
// supervisor owns exactly one Tracker per tick loop, per spec §3).
type Tracker struct {
	window  int64 // seconds
	samples []sample

	persistPath string
	log         zerolog.Logger
}

// New creates a Tracker with the given window, in seconds.
func New(windowSeconds int64, persistPath string, log zerolog.Logger) *Tracker {
	return &Tracker{window: windowSeconds, persistPath: persistPath, log: log}
}

// Observe inserts (t, chargePct), prunes samples older than t-window, and
// returns the current discharge rate in percent per minute. A positive rate
// denotes discharge. Returns 0.0 when fewer than MinSamplesForRate samples
// have accumulated or the time span is zero (spec §4.2, invariant 5).
func (tr *Tracker) Observe(t int64, chargePct float64) float64 {
	tr.samples = append(tr.samples, sample{t: t, charge: chargePct})
	if len(tr.samples) > MaxSamples {
		tr.samples = tr.samples[len(tr.samples)-MaxSamples:]
	}
	tr.prune(t)
	tr.persist()

	if len(tr.samples) < MinSamplesForRate {
		return 0.0
	}

	oldest := tr.samples[0]
	newest := tr.samples[len(tr.samples)-1]
	span := newest.t - oldest.t
	if span == 0 {
		return 0.0
	}

	rate := (oldest.charge - newest.charge) / float64(span) * 60
	return math.Round(rate*100) / 100
}

// Clear empties the window. Called on entry into ON_BATTERY and on exit back
// to ON_LINE, per spec §3.
func (tr *Tracker) Clear() {
	tr.samples = nil
}

// Len reports how many samples are currently retained.
func (tr *Tracker) Len() int {
	return len(tr.samples)
}

func (tr *Tracker) prune(now int64) {
	cutoff := now - tr.window
	i := 0
	for i < len(tr.samples) && tr.samples[i].t < cutoff {
		i++
	}
	if i > 0 {
		tr.samples = tr.samples[i:]
	}
}

// persist atomically writes the window to disk as one "epoch:charge" line
// per sample, oldest first (spec §6's battery-history file contract).
// Persistence failures are logged and swallowed: the in-memory window is
// authoritative for the running process; the file exists for external
// observability and restart recovery only.
func (tr *Tracker) persist() {
	if tr.persistPath == "" {
		return
	}
	var b strings.Builder
	for _, s := range tr.samples {
		fmt.Fprintf(&b, "%d:%s\n", s.t, strconv.FormatFloat(s.charge, 'f', -1, 64))
	}
	if err := persist.WriteAtomic(tr.persistPath, []byte(b.String())); err != nil {
		tr.log.Warn().Err(err).Str("path", tr.persistPath).Msg("depletion: persisting battery history failed")
	}
}

// Load reads a previously persisted battery-history file back into a
// Tracker, for restart recovery. Malformed lines are skipped.
func Load(path string, windowSeconds int64, log zerolog.Logger) (*Tracker, error) {
	tr := New(windowSeconds, path, log)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tr, nil
		}
		return tr, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		t, err1 := strconv.ParseInt(parts[0], 10, 64)
		c, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		tr.samples = append(tr.samples, sample{t: t, charge: c})
	}
	if len(tr.samples) > MaxSamples {
		tr.samples = tr.samples[len(tr.samples)-MaxSamples:]
	}
	return tr, scanner.Err()
}
