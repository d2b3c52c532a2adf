// Package optimistic merges UI-asserted and device-confirmed state so
// surfaces can show the effect of a command before the device confirms it.
package optimistic

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is how long an intended value outranks a mismatching
// confirmed read. Past the deadline the confirmed value wins
// unconditionally, so a failed command cannot leave a stuck optimistic
// value.
const DefaultWindow = 750 * time.Millisecond

type entry struct {
	on           bool
	registeredAt time.Time
}

// Coordinator holds at most one intended power value per device. It is the
// single writer for optimistic state; surfaces only read merged results.
type Coordinator struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a coordinator with the given reconciliation window.
func New(window time.Duration) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coordinator{
		window:  window,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Register stores the intended power state for a device, superseding any
// earlier intent for the same device.
func (c *Coordinator) Register(deviceID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[deviceID] = entry{on: on, registeredAt: c.now()}

	log.Debug().Str("device", deviceID).Bool("on", on).Msg("Optimistic state registered")
}

// Reconcile merges a confirmed device read with any registered intent and
// returns the value surfaces should show.
//
// No intent: confirmed wins. Matching intent: the entry is cleared and
// confirmed wins. Mismatching intent within the window: the intent still
// wins. Past the window: the entry is cleared and confirmed wins.
func (c *Coordinator) Reconcile(deviceID string, confirmed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok {
		return confirmed
	}
	if e.on == confirmed {
		delete(c.entries, deviceID)
		return confirmed
	}
	if c.now().Sub(e.registeredAt) < c.window {
		return e.on
	}

	delete(c.entries, deviceID)
	log.Debug().
		Str("device", deviceID).
		Bool("intended", e.on).
		Bool("confirmed", confirmed).
		Msg("Optimistic state expired, confirmed wins")
	return confirmed
}

// Current returns the value to show given the last confirmed read, without
// mutating reconciliation state for mismatches still within the window.
func (c *Coordinator) Current(deviceID string, lastConfirmed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok {
		return lastConfirmed
	}
	if c.now().Sub(e.registeredAt) < c.window {
		return e.on
	}
	return lastConfirmed
}

// Clear drops any registered intent for a device.
func (c *Coordinator) Clear(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceID)
}
