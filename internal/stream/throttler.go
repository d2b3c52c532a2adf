// Package stream rate-limits command dispatch during continuous interactive
// edits. Callers report two phases per edit: Changed (many, during a drag)
// and Ended (once, on release).
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default quiescence windows. Dual-gradient (A/B) edits use the wider
// window to reflect the doubled device load.
const (
	DefaultWindow     = 60 * time.Millisecond
	DefaultDualWindow = 150 * time.Millisecond
)

// Phase is the explicit two-variant edit event consumed by the throttler.
type Phase int

const (
	// PhaseChanged marks an in-progress edit (many per drag).
	PhaseChanged Phase = iota
	// PhaseEnded marks the release at the end of an edit (once).
	PhaseEnded
)

// Func is a deferred dispatch. It closes over the payload current at
// scheduling time; superseded payloads are dropped, never queued.
type Func func(ctx context.Context) error

// entry tracks one control's stream. gen invalidates scheduled dispatches
// that have been superseded; dispatchMu serializes the dispatches
// themselves, so a write whose timer already fired cannot land after a
// later write for the same control.
type entry struct {
	timer *time.Timer
	gen   uint64

	dispatchMu sync.Mutex
}

// Throttler debounces dispatches per control. A later scheduled write
// always supersedes an earlier pending one for the same control, so no
// out-of-order writes occur within one control's stream. Across distinct
// controls no ordering is enforced.
type Throttler struct {
	ctx        context.Context
	window     time.Duration
	dualWindow time.Duration

	mu       sync.Mutex
	controls map[string]*entry
	closed   bool
}

// New creates a throttler. Deferred dispatches run with ctx.
func New(ctx context.Context, window, dualWindow time.Duration) *Throttler {
	if window <= 0 {
		window = DefaultWindow
	}
	if dualWindow <= 0 {
		dualWindow = DefaultDualWindow
	}
	return &Throttler{
		ctx:        ctx,
		window:     window,
		dualWindow: dualWindow,
		controls:   make(map[string]*entry),
	}
}

// control returns the entry for a control, creating it on first use.
// Callers hold t.mu. Entries are never removed; the control set is the
// small fixed set of interactive surfaces.
func (t *Throttler) control(name string) *entry {
	e, ok := t.controls[name]
	if !ok {
		e = &entry{}
		t.controls[name] = e
	}
	return e
}

// Changed records an in-progress edit for a control: any pending dispatch
// for that control is dropped and fn is scheduled after the quiescence
// window. Set dual for two-gradient edits.
func (t *Throttler) Changed(name string, dual bool, fn Func) {
	window := t.window
	if dual {
		window = t.dualWindow
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	e := t.control(name)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(window, func() {
		t.fire(name, e, gen, fn)
	})
}

// fire runs a scheduled dispatch once its window elapses. The generation
// recheck happens under the dispatch lock: a dispatch whose timer fired
// but that lost the lock to a newer write for the same control is stale
// by then and dropped, never run late.
func (t *Throttler) fire(name string, e *entry, gen uint64, fn Func) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	t.mu.Lock()
	stale := t.closed || e.gen != gen
	if !stale {
		e.timer = nil
	}
	t.mu.Unlock()
	if stale {
		return
	}

	if err := fn(t.ctx); err != nil {
		log.Warn().Err(err).Str("control", name).Msg("Throttled dispatch failed")
	}
}

// Ended finishes an edit: any pending dispatch is cancelled and fn is sent
// immediately, bypassing the window. The send waits for an in-flight
// scheduled write to drain first, so the final write of an edit always
// carries the Ended payload.
func (t *Throttler) Ended(name string, fn Func) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	e := t.control(name)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	t.mu.Unlock()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	return fn(t.ctx)
}

// CancelPending drops any scheduled dispatch for a control without sending.
func (t *Throttler) CancelPending(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.controls[name]; ok {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.gen++
	}
}

// Close cancels all pending dispatches. Further calls are no-ops.
func (t *Throttler) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, e := range t.controls {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.gen++
	}
}
