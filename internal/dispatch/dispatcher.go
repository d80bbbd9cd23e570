// Package dispatch implements the notification dispatcher: a single
// persistent worker draining a bounded channel, with a mode switch to
// synchronous, extended-timeout delivery once the ShutdownLatch is set
// (spec §4.7).
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Severity classifies a notification (spec §4.7).
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Failure Severity = "failure"
)

// Notification is one message enqueued for delivery.
type Notification struct {
	Message  string
	Severity Severity
}

// Sink delivers one notification to an external system (webhook, MQTT...).
// Implementations must honor ctx's deadline.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Latch reports whether a shutdown is in progress. Satisfied by
// *persist.ShutdownLatch; kept as a narrow interface here so the dispatcher
// has no import-time dependency on the persist package (spec §3: the latch
// is shared read-only across components).
type Latch interface {
	IsSet() bool
}

const (
	queueCapacity       = 64
	normalSinkTimeout   = 3 * time.Second
	latchedSinkTimeout  = 15 * time.Second
	latchedSettleDelay  = 250 * time.Millisecond
)

// queuedNotification pairs a Notification with an optional completion
// channel used only in latched (synchronous) mode.
type queuedNotification struct {
	n    Notification
	done chan struct{}
}

// Dispatcher is a single-producer/single-consumer notification queue with
// one worker. The zero value is not usable; construct via New.
type Dispatcher struct {
	sinks []Sink
	latch Latch
	log   zerolog.Logger

	queue   chan queuedNotification
	done    chan struct{}
	started bool
}

// New creates a Dispatcher. It does nothing until Start is called.
func New(sinks []Sink, latch Latch, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{sinks: sinks, latch: latch, log: log}
}

// Start launches the worker goroutine. Idempotent; a no-op when already
// started or when no sinks are configured (spec §4.7).
func (d *Dispatcher) Start() {
	if d.started || len(d.sinks) == 0 {
		return
	}
	d.started = true
	d.queue = make(chan queuedNotification, queueCapacity)
	d.done = make(chan struct{})
	go d.run()
}

// Send enqueues a notification. When the ShutdownLatch is set, Send blocks
// until delivery (or its extended timeout) completes, so the last
// notifications reach their sinks before the OS poweroff severs the
// process (spec §4.7, §8 invariant 6). Otherwise Send returns immediately;
// if the queue is full, the oldest pending notification is dropped to make
// room (spec §9: drop-oldest spill policy).
func (d *Dispatcher) Send(message string, severity Severity) {
	if !d.started {
		return
	}
	n := Notification{Message: message, Severity: severity}

	if d.latch != nil && d.latch.IsSet() {
		done := make(chan struct{})
		d.enqueue(queuedNotification{n: n, done: done})
		<-done
		return
	}
	d.enqueue(queuedNotification{n: n})
}

func (d *Dispatcher) enqueue(qn queuedNotification) {
	select {
	case d.queue <- qn:
		return
	default:
	}
	// Queue full: drop the oldest to make room, per spec §9.
	select {
	case dropped := <-d.queue:
		d.log.Warn().Str("message", dropped.n.Message).Msg("dispatch: queue full, dropping oldest notification")
		if dropped.done != nil {
			close(dropped.done)
		}
	default:
	}
	select {
	case d.queue <- qn:
	default:
		// Still full (a concurrent consumer raced us); give up silently
		// rather than block the sampler.
		if qn.done != nil {
			close(qn.done)
		}
	}
}

// Stop drains the queue and waits for the worker to exit. It does not hang
// even if a sink is slow, because each delivery carries its own timeout.
func (d *Dispatcher) Stop() {
	if !d.started {
		return
	}
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for qn := range d.queue {
		d.deliver(qn.n)
		if qn.done != nil {
			close(qn.done)
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	timeout := normalSinkTimeout
	latched := d.latch != nil && d.latch.IsSet()
	if latched {
		timeout = latchedSinkTimeout
	}

	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := sink.Notify(ctx, n)
		cancel()
		if err != nil {
			d.log.Warn().Err(err).Str("message", n.Message).Msg("dispatch: sink delivery failed")
		}
	}

	if latched {
		time.Sleep(latchedSettleDelay)
	}
}
