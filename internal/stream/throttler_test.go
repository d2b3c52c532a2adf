package stream

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recorder collects dispatched payloads in order.
type recorder struct {
	mu       sync.Mutex
	payloads []int
}

func (r *recorder) dispatch(payload int) Func {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.payloads = append(r.payloads, payload)
		return nil
	}
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func TestDragBound(t *testing.T) {
	// 50 Changed events over 500ms followed by one Ended must issue at
	// most ceil(500/60)+1 = 10 writes, and the last write must carry the
	// Ended payload.
	th := New(context.Background(), DefaultWindow, DefaultDualWindow)
	defer th.Close()

	rec := &recorder{}
	for i := 0; i < 50; i++ {
		th.Changed("colorbar", false, rec.dispatch(i))
		time.Sleep(10 * time.Millisecond)
	}
	if err := th.Ended("colorbar", rec.dispatch(999)); err != nil {
		t.Fatalf("Ended failed: %v", err)
	}

	// Let any stray timers fire.
	time.Sleep(2 * DefaultWindow)

	got := rec.snapshot()
	if len(got) > 10 {
		t.Errorf("dispatched %d writes, want at most 10", len(got))
	}
	if len(got) == 0 || got[len(got)-1] != 999 {
		t.Errorf("final write = %v, want the Ended payload", got)
	}
}

func TestEndedBypassesWindow(t *testing.T) {
	th := New(context.Background(), time.Hour, time.Hour)
	defer th.Close()

	rec := &recorder{}
	th.Changed("c", false, rec.dispatch(1))
	if err := th.Ended("c", rec.dispatch(2)); err != nil {
		t.Fatalf("Ended failed: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("payloads = %v, want only the immediate Ended write", got)
	}
}

func TestEndedLandsLastWhenChangedWriteInFlight(t *testing.T) {
	// A Changed dispatch whose timer already fired can still be writing
	// when the release comes in. The Ended write must wait for it and
	// land last; the device must never end up showing the drag payload.
	th := New(context.Background(), 5*time.Millisecond, time.Hour)
	defer th.Close()

	var mu sync.Mutex
	var order []string

	started := make(chan struct{})
	release := make(chan struct{})
	th.Changed("colorbar", false, func(context.Context) error {
		close(started)
		<-release
		mu.Lock()
		order = append(order, "changed")
		mu.Unlock()
		return nil
	})

	// Wait until the scheduled write is in flight, then release the drag.
	<-started
	done := make(chan error, 1)
	go func() {
		done <- th.Ended("colorbar", func(context.Context) error {
			mu.Lock()
			order = append(order, "ended")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Ended failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) == 0 || order[len(order)-1] != "ended" {
		t.Errorf("final write order = %v, want the Ended payload last", order)
	}
}

func TestSupersededFiredDispatchIsDropped(t *testing.T) {
	// When Ended wins the race against a fired timer, the superseded
	// Changed write must be dropped, not run late. Delivers the fired
	// dispatch by hand with its original generation.
	th := New(context.Background(), time.Hour, time.Hour)
	defer th.Close()

	rec := &recorder{}
	th.Changed("c", false, rec.dispatch(1))

	th.mu.Lock()
	e := th.controls["c"]
	gen := e.gen
	th.mu.Unlock()

	if err := th.Ended("c", rec.dispatch(2)); err != nil {
		t.Fatalf("Ended failed: %v", err)
	}
	th.fire("c", e, gen, rec.dispatch(1))

	got := rec.snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("payloads = %v, want only the Ended write", got)
	}
}

func TestChangedSupersedesPending(t *testing.T) {
	th := New(context.Background(), 30*time.Millisecond, time.Hour)
	defer th.Close()

	rec := &recorder{}
	th.Changed("c", false, rec.dispatch(1))
	th.Changed("c", false, rec.dispatch(2))
	th.Changed("c", false, rec.dispatch(3))

	time.Sleep(100 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("payloads = %v, want only the latest scheduled write", got)
	}
}

func TestControlsAreIndependent(t *testing.T) {
	th := New(context.Background(), 20*time.Millisecond, time.Hour)
	defer th.Close()

	rec := &recorder{}
	th.Changed("color", false, rec.dispatch(1))
	th.Changed("brightness", false, rec.dispatch(2))

	time.Sleep(100 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Errorf("payloads = %v, want both controls to dispatch", got)
	}
}

func TestCancelPending(t *testing.T) {
	th := New(context.Background(), 20*time.Millisecond, time.Hour)
	defer th.Close()

	rec := &recorder{}
	th.Changed("c", false, rec.dispatch(1))
	th.CancelPending("c")

	time.Sleep(80 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("payloads = %v, want none after cancel", got)
	}
}

func TestCloseDropsPending(t *testing.T) {
	th := New(context.Background(), 20*time.Millisecond, time.Hour)

	rec := &recorder{}
	th.Changed("c", false, rec.dispatch(1))
	th.Close()

	time.Sleep(80 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("payloads = %v, want none after close", got)
	}
	// Further calls are no-ops.
	th.Changed("c", false, rec.dispatch(2))
	if err := th.Ended("c", rec.dispatch(3)); err != nil {
		t.Fatalf("Ended after close returned error: %v", err)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("payloads = %v, want none after close", got)
	}
}
