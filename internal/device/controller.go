// Package device owns the per-device control path. Each Controller is the
// single logical owner of one controller's pipeline: it serializes writes,
// publishes state snapshots, and exposes the operations presentation
// surfaces call. Different devices proceed independently.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glowctl/glowd/internal/color"
	"github.com/glowctl/glowd/internal/eventbus"
	"github.com/glowctl/glowd/internal/kv"
	"github.com/glowctl/glowd/internal/optimistic"
	"github.com/glowctl/glowd/internal/pipeline"
	"github.com/glowctl/glowd/internal/stream"
	"github.com/glowctl/glowd/internal/transition"
	"github.com/glowctl/glowd/internal/wled"
)

// Snapshot is the published per-device state shared across presentation
// surfaces. Surfaces only read snapshots; the controller is the single
// writer.
type Snapshot struct {
	DeviceID           string
	Power              bool
	Brightness         uint8
	Gradient           color.Gradient
	TransitionDuration time.Duration
	CCTSupported       bool
	UpdatedAt          time.Time
}

// Deps carries the shared collaborators a controller needs.
type Deps struct {
	Optimistic *optimistic.Coordinator
	Bus        *eventbus.Bus

	// Gradients and Durations are the per-device last-seen caches.
	Gradients kv.Bucket
	Durations kv.Bucket

	// Throttle windows for interactive edits.
	Window     time.Duration
	DualWindow time.Duration

	// MaxWriteRate is the transition frame cadence in writes per second.
	// The engine hard-caps it regardless of configuration.
	MaxWriteRate float64

	// FallbackLEDCount is used until device info has been fetched.
	FallbackLEDCount int
}

// Controller drives one device.
type Controller struct {
	id     string
	client *wled.Client
	pipe   *pipeline.Pipeline
	thr    *stream.Throttler
	engine *transition.Engine
	deps   Deps

	// mu serializes this device's pipeline operations.
	mu   sync.Mutex
	info *wled.Info

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewController creates a controller and restores cached state. Deferred
// throttled dispatches run with ctx.
func NewController(ctx context.Context, id string, client *wled.Client, deps Deps) *Controller {
	if deps.FallbackLEDCount <= 0 {
		deps.FallbackLEDCount = 30
	}
	if deps.MaxWriteRate <= 0 {
		deps.MaxWriteRate = transition.MaxWriteRate
	}

	c := &Controller{
		id:     id,
		client: client,
		pipe:   pipeline.New(client),
		thr:    stream.New(ctx, deps.Window, deps.DualWindow),
		deps:   deps,
		snap:   Snapshot{DeviceID: id},
	}
	c.engine = transition.New(id, 0, deps.FallbackLEDCount, c.pipe, c.transitionFinished)

	c.restoreCaches()
	return c
}

// ID returns the device id.
func (c *Controller) ID() string {
	return c.id
}

// Client exposes the wire client (for the preset sync resolver).
func (c *Controller) Client() *wled.Client {
	return c.client
}

// Snapshot returns the current published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// restoreCaches loads the last-seen gradient and transition duration so
// surfaces have state before the first device read.
func (c *Controller) restoreCaches() {
	var stops []color.Stop
	if ok, err := c.deps.Gradients.Get(c.id, &stops); err == nil && ok {
		c.snap.Gradient = color.Normalize(stops)
	}
	var durSec float64
	if ok, err := c.deps.Durations.Get(c.id, &durSec); err == nil && ok {
		c.snap.TransitionDuration = time.Duration(durSec * float64(time.Second))
	}
}

func (c *Controller) target(segmentID int) pipeline.Target {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := pipeline.Target{DeviceID: c.id, SegmentLEDCount: c.deps.FallbackLEDCount}
	if c.info != nil {
		t.SegmentLEDCount = c.info.SegmentLEDCount(segmentID)
		t.SupportsCCT = c.info.LEDs.CCT
	}
	return t
}

// ApplyGradient builds and immediately dispatches a gradient edit, then
// caches it as the device's last-seen gradient.
func (c *Controller) ApplyGradient(ctx context.Context, segmentID int, stops []color.Stop, temps []float64) error {
	g := color.Normalize(stops)
	if len(g) == 0 {
		return fmt.Errorf("gradient has no stops")
	}

	intent, err := pipeline.BuildIntent(c.target(segmentID), segmentID, g, temps)
	if err != nil {
		return err
	}
	if err := c.send(ctx, intent); err != nil {
		return err
	}

	if err := c.deps.Gradients.Store(c.id, g); err != nil {
		log.Warn().Err(err).Str("device", c.id).Msg("Failed to cache gradient")
	}
	c.publish(func(s *Snapshot) {
		s.Gradient = g
	})
	return nil
}

// GradientEdit routes an interactive edit through the stream throttler.
// Changed phases debounce per control; the Ended phase dispatches
// immediately and always carries the final payload.
func (c *Controller) GradientEdit(segmentID int, control string, phase stream.Phase, dual bool, stops []color.Stop, temps []float64) error {
	apply := func(ctx context.Context) error {
		return c.ApplyGradient(ctx, segmentID, stops, temps)
	}

	switch phase {
	case stream.PhaseChanged:
		c.thr.Changed(control, dual, apply)
		return nil
	case stream.PhaseEnded:
		return c.thr.Ended(control, apply)
	default:
		return fmt.Errorf("unknown edit phase %d", phase)
	}
}

// ApplyIntent dispatches a pre-built color intent.
func (c *Controller) ApplyIntent(ctx context.Context, intent pipeline.Intent) error {
	t := c.target(intent.SegmentID)
	if intent.Mode == pipeline.ModePerLED {
		if err := intent.Validate(t.SegmentLEDCount); err != nil {
			return err
		}
	}
	return c.send(ctx, intent)
}

// ApplyTemperature dispatches a color-temperature edit (normalized t in
// [0,1]). On devices without a CCT channel the derived color is rescaled
// to stay visible.
func (c *Controller) ApplyTemperature(ctx context.Context, segmentID int, t float64) error {
	tgt := c.target(segmentID)

	rgb := color.TemperatureToRGB(t)
	if !tgt.SupportsCCT {
		rgb = color.EnsureVisible(rgb)
	}
	g := color.Gradient{color.NewStop(0, rgb)}

	intent, err := pipeline.BuildIntent(tgt, segmentID, g, []float64{t})
	if err != nil {
		return err
	}
	return c.send(ctx, intent)
}

// StartTransition begins a timed A-to-B transition on the primary segment
// and caches the chosen duration. Any in-flight transition is superseded.
func (c *Controller) StartTransition(ctx context.Context, from color.Gradient, fromBri uint8, to color.Gradient, toBri uint8, durationSec float64) error {
	spec := transition.Spec{
		From:           from,
		FromBrightness: fromBri,
		To:             to,
		ToBrightness:   toBri,
		Duration:       time.Duration(durationSec * float64(time.Second)),
		FrameRate:      c.deps.MaxWriteRate,
		LEDCount:       c.target(0).SegmentLEDCount,
	}
	if err := c.engine.Start(ctx, spec); err != nil {
		return err
	}

	if err := c.deps.Durations.Store(c.id, durationSec); err != nil {
		log.Warn().Err(err).Str("device", c.id).Msg("Failed to cache transition duration")
	}
	c.publish(func(s *Snapshot) {
		s.TransitionDuration = time.Duration(durationSec * float64(time.Second))
	})
	return nil
}

// CancelTransition halts any running transition and reverts to the A side.
// Cancelling when idle is a no-op.
func (c *Controller) CancelTransition(ctx context.Context) error {
	err := c.engine.Cancel(ctx)
	if errors.Is(err, transition.ErrNotRunning) {
		log.Debug().Str("device", c.id).Msg("No transition to cancel")
		return nil
	}
	return err
}

func (c *Controller) transitionFinished(final transition.State) {
	if c.deps.Bus != nil {
		c.deps.Bus.PublishTransitionFinished(c.id, final.String())
	}
}

// ApplyPreset decodes a stored preset payload and writes it to the device.
// The local record is authoritative; the device's own preset slot, if one
// exists, is not recalled.
func (c *Controller) ApplyPreset(ctx context.Context, payload json.RawMessage) error {
	var state wled.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("failed to decode preset payload: %w", err)
	}
	state.PresetSave = nil

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.SetState(ctx, state)
}

// SetPower registers the intended power state optimistically and sends the
// write. The optimistic value hides device latency until a confirmed read
// reconciles it.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	c.deps.Optimistic.Register(c.id, on)
	c.publish(func(s *Snapshot) {
		s.Power = on
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.SetState(ctx, wled.State{On: &on})
}

// PowerState returns the merged power value surfaces should show.
func (c *Controller) PowerState() bool {
	snap := c.Snapshot()
	return c.deps.Optimistic.Current(c.id, snap.Power)
}

// Refresh reads the full device document, reconciles optimistic state
// against it and publishes a fresh snapshot. A malformed info document
// gates capabilities off instead of failing.
func (c *Controller) Refresh(ctx context.Context) error {
	dev, err := c.client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh device %s: %w", c.id, err)
	}

	c.mu.Lock()
	c.info = &dev.Info
	c.mu.Unlock()

	confirmedOn := dev.State.On != nil && *dev.State.On
	merged := c.deps.Optimistic.Reconcile(c.id, confirmedOn)

	c.publish(func(s *Snapshot) {
		s.Power = merged
		if dev.State.Brightness != nil {
			s.Brightness = *dev.State.Brightness
		}
		s.CCTSupported = dev.Info.LEDs.CCT
	})

	log.Debug().
		Str("device", c.id).
		Bool("power", merged).
		Bool("cct", dev.Info.LEDs.CCT).
		Msg("Device refreshed")

	return nil
}

// send serializes a pipeline dispatch for this device.
func (c *Controller) send(ctx context.Context, intent pipeline.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipe.Send(ctx, intent)
}

// publish applies a mutation to the snapshot under the write lock and
// announces the update.
func (c *Controller) publish(mutate func(*Snapshot)) {
	c.snapMu.Lock()
	mutate(&c.snap)
	c.snap.UpdatedAt = time.Now()
	c.snapMu.Unlock()

	if c.deps.Bus != nil {
		c.deps.Bus.PublishDeviceUpdated(c.id)
	}
}

// Close drops pending throttled writes and releases the wire client.
func (c *Controller) Close() {
	c.thr.Close()
	c.client.Close()
}
