// Package batch groups incoming logs into per-block batches behind a
// quiet-period debounce.
package batch

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultQuietPeriod is the debounce interval after the last observed log
// before the earliest pending block is considered complete.
const DefaultQuietPeriod = 300 * time.Millisecond

// Accumulator collects logs in arrival order and signals readiness once no
// new log has arrived for a full quiet period. Every Append re-arms the one
// debounce timer; the latest arming always supersedes the previous one.
//
// The accumulator is owned by the ingestion runner's event loop and is not
// safe for concurrent use, except for Ready which is a plain channel read.
type Accumulator struct {
	quiet     time.Duration
	afterFunc func(d time.Duration, f func()) *time.Timer

	timer      *time.Timer
	ready      chan struct{}
	pending    []types.Log
	processing bool
}

// Options configures an Accumulator.
type Options struct {
	// QuietPeriod is the debounce interval (DefaultQuietPeriod if zero).
	QuietPeriod time.Duration
	// AfterFunc schedules the debounce callback; tests inject a manual
	// trigger here. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates an empty accumulator in the idle state.
func New(opts Options) *Accumulator {
	quiet := opts.QuietPeriod
	if quiet == 0 {
		quiet = DefaultQuietPeriod
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = time.AfterFunc
	}
	return &Accumulator{
		quiet:     quiet,
		afterFunc: afterFunc,
		ready:     make(chan struct{}, 1),
	}
}

// Append records a log in arrival order and re-arms the quiet-period timer.
func (a *Accumulator) Append(lg types.Log) {
	a.pending = append(a.pending, lg)

	if a.timer == nil {
		a.timer = a.afterFunc(a.quiet, a.fire)
		return
	}
	a.timer.Reset(a.quiet)
}

// fire signals readiness. The signal is level-triggered: a pending signal
// is never duplicated.
func (a *Accumulator) fire() {
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

// Ready delivers one signal per quiet-period expiry.
func (a *Accumulator) Ready() <-chan struct{} {
	return a.ready
}

// RearmIfPending re-arms the debounce timer when logs for later blocks are
// still buffered, so a paused stream cannot strand them.
func (a *Accumulator) RearmIfPending() {
	if len(a.pending) == 0 || a.timer == nil {
		return
	}
	a.timer.Reset(a.quiet)
}

// TakeEarliest extracts all logs of the lowest pending block number,
// preserving their arrival order. Logs for other blocks stay pending.
// ok is false when nothing is pending.
func (a *Accumulator) TakeEarliest() (logs []types.Log, block uint64, ok bool) {
	if len(a.pending) == 0 {
		return nil, 0, false
	}

	block = a.pending[0].BlockNumber
	for _, lg := range a.pending[1:] {
		if lg.BlockNumber < block {
			block = lg.BlockNumber
		}
	}

	rest := a.pending[:0:0]
	for _, lg := range a.pending {
		if lg.BlockNumber == block {
			logs = append(logs, lg)
		} else {
			rest = append(rest, lg)
		}
	}
	a.pending = rest

	return logs, block, true
}

// BeginProcessing gates batch processing: it returns false while an earlier
// batch is still in flight, so two batches can never overlap.
func (a *Accumulator) BeginProcessing() bool {
	if a.processing {
		return false
	}
	a.processing = true
	return true
}

// EndProcessing clears the processing gate.
func (a *Accumulator) EndProcessing() {
	a.processing = false
}

// PendingCount returns the number of buffered logs.
func (a *Accumulator) PendingCount() int {
	return len(a.pending)
}

// Stop cancels any armed timer. Used on shutdown.
func (a *Accumulator) Stop() {
	if a.timer != nil {
		a.timer.Stop()
	}
}
