package swarm

import (
	"context"
	"log/slog"

	"github.com/resilienthike/clinical-swarm/internal/metrics"
)

type runWork struct {
	eventID string
	// ready, when set, holds the run until the caller confirms the
	// record exists. A false value releases the slot without running.
	ready chan bool
	done  chan error
}

// Dispatcher detaches swarm runs onto a bounded worker pool. Each run owns
// exactly one record, so runs for distinct events proceed fully in
// parallel; the pool only bounds how many are in flight.
type Dispatcher struct {
	runner *Runner
	pool   *workerPool[runWork]
	log    *slog.Logger
}

// NewDispatcher starts workers goroutines consuming a queue of queueDepth.
func NewDispatcher(ctx context.Context, runner *Runner, workers, queueDepth int, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{runner: runner, log: log}
	d.pool = newWorkerPool(ctx, workers, queueDepth, func(ctx context.Context, w runWork) {
		if w.ready != nil {
			select {
			case ok := <-w.ready:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
		// The run's own error boundary: failures are already persisted on
		// the record, so the worker just reports and moves on.
		err := d.runner.Run(ctx, w.eventID)
		if err != nil {
			d.log.Error("swarm run ended in failure", "event", w.eventID, "err", err)
		}
		if w.done != nil {
			w.done <- err
		}
	})
	return d
}

// Dispatch enqueues an event for background processing. Returns false if
// the queue is full; the caller decides how to surface that.
func (d *Dispatcher) Dispatch(eventID string) bool {
	if !d.pool.Submit(runWork{eventID: eventID}) {
		metrics.EventsDropped.Inc()
		return false
	}
	return true
}

// Reserve claims a queue slot for an event whose record does not exist
// yet, so a full queue can be reported before anything is persisted. The
// assigned worker waits until the caller commits the slot; abort releases
// it without running. Returns ok=false when the queue is full.
func (d *Dispatcher) Reserve(eventID string) (commit, abort func(), ok bool) {
	ready := make(chan bool, 1)
	if !d.pool.Submit(runWork{eventID: eventID, ready: ready}) {
		metrics.EventsDropped.Inc()
		return nil, nil, false
	}
	return func() { ready <- true }, func() { ready <- false }, true
}

// DispatchWait enqueues an event and returns a channel that yields the
// run's terminal error (nil on complete). The completion channel is an
// internal convenience; the external contract stays poll-the-record.
func (d *Dispatcher) DispatchWait(eventID string) (<-chan error, bool) {
	done := make(chan error, 1)
	if !d.pool.Submit(runWork{eventID: eventID, done: done}) {
		metrics.EventsDropped.Inc()
		return nil, false
	}
	return done, true
}

// QueueUtilization returns queue used / capacity (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	if d.pool.QueueCap() == 0 {
		return 0
	}
	return float64(d.pool.QueueLen()) / float64(d.pool.QueueCap())
}

// Shutdown drains the pool gracefully.
func (d *Dispatcher) Shutdown() {
	d.pool.Drain()
}
