// Package transition schedules and streams timed color-to-color transitions
// between two gradients through the throttled device pipeline.
package transition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/glowctl/glowd/internal/color"
	"github.com/glowctl/glowd/internal/pipeline"
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateCancelled
	StateCompleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Cancel when no transition is in flight.
var ErrNotRunning = errors.New("no transition running")

// MaxWriteRate caps the streamed frame cadence regardless of the configured
// frame rate, to bound device load.
const MaxWriteRate = 20.0

// Duration bounds for a transition.
const (
	MinDuration = 1 * time.Second
	MaxDuration = 10 * time.Minute
)

// Spec describes one transition. To defaults to a deep copy of From when
// left nil (first activation before the B side has been edited).
type Spec struct {
	From           color.Gradient
	FromBrightness uint8
	To             color.Gradient
	ToBrightness   uint8
	Duration       time.Duration
	FrameRate      float64

	// LEDCount overrides the engine default when the segment length is
	// known at start time.
	LEDCount int
}

// Sender dispatches one built intent; satisfied by *pipeline.Pipeline.
type Sender interface {
	Send(ctx context.Context, intent pipeline.Intent) error
}

// Engine drives transitions for a single device segment. Only one
// transition runs at a time; starting a new one cancels the in-flight run.
type Engine struct {
	deviceID  string
	segmentID int
	ledCount  int
	sender    Sender

	// notify, when set, observes terminal states (Completed/Cancelled).
	notify func(State)

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	current Spec
}

// New creates an engine for one device segment.
func New(deviceID string, segmentID, ledCount int, sender Sender, notify func(State)) *Engine {
	return &Engine{
		deviceID:  deviceID,
		segmentID: segmentID,
		ledCount:  ledCount,
		sender:    sender,
		notify:    notify,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done returns a channel closed when the current run ends. When no run is
// active the returned channel is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return e.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Start begins streaming interpolated frames per spec. An in-flight
// transition is halted first; its revert is skipped because the new run's
// first frame lands immediately, so the device is never left
// mid-interpolation.
func (e *Engine) Start(ctx context.Context, spec Spec) error {
	if len(spec.From) == 0 {
		return fmt.Errorf("transition requires a source gradient")
	}
	if spec.To == nil {
		spec.To = spec.From.Clone()
		spec.ToBrightness = spec.FromBrightness
	}
	spec.Duration = clampDuration(spec.Duration)
	if spec.FrameRate <= 0 {
		spec.FrameRate = MaxWriteRate
	}
	if spec.LEDCount <= 0 {
		spec.LEDCount = e.ledCount
	}

	// Halt any in-flight run before arming the new one.
	e.haltCurrent()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.state = StateArmed
	e.cancel = cancel
	e.done = done
	e.current = spec
	e.mu.Unlock()

	go e.run(runCtx, spec, done)
	return nil
}

// Cancel halts scheduled ticks immediately and synchronously reverts the
// device to the static A side. The revert write always happens, so a
// disabled transition never leaves the device mid-interpolation.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateArmed {
		e.mu.Unlock()
		return ErrNotRunning
	}
	spec := e.current
	e.mu.Unlock()

	e.haltCurrent()

	err := e.sendFrame(ctx, spec.From.Frame(spec.LEDCount), spec.FromBrightness)

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(StateCancelled)
	}
	if err != nil {
		return fmt.Errorf("failed to revert after cancel: %w", err)
	}

	log.Debug().Str("device", e.deviceID).Msg("Transition cancelled, reverted to A")
	return nil
}

// haltCurrent stops the running goroutine and waits for it to exit.
func (e *Engine) haltCurrent() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, spec Spec, done chan struct{}) {
	defer close(done)

	// Tick count is deterministic from duration and the capped rate:
	// ticks+1 frames at progress i/ticks, so the first frame equals A and
	// the last equals B.
	effRate := spec.FrameRate
	if effRate > MaxWriteRate {
		effRate = MaxWriteRate
	}
	ticks := int(spec.Duration.Seconds()*effRate + 0.5)
	if ticks < 1 {
		ticks = 1
	}
	interval := spec.Duration / time.Duration(ticks)

	frameA := spec.From.Frame(spec.LEDCount)
	frameB := spec.To.Frame(spec.LEDCount)
	blended := make([]color.RGB, spec.LEDCount)

	limiter := rate.NewLimiter(rate.Limit(MaxWriteRate), 1)

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	log.Info().
		Str("device", e.deviceID).
		Dur("duration", spec.Duration).
		Int("frames", ticks+1).
		Msg("Transition started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i <= ticks; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		p := float64(i) / float64(ticks)
		for led := range blended {
			blended[led] = color.Lerp(frameA[led], frameB[led], p)
		}
		bri := lerpBrightness(spec.FromBrightness, spec.ToBrightness, p)

		frame := make([]color.RGB, len(blended))
		copy(frame, blended)
		if err := e.sendFrame(ctx, frame, bri); err != nil {
			log.Warn().Err(err).Str("device", e.deviceID).Msg("Transition frame dropped")
		}

		if i == ticks {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	e.mu.Lock()
	e.cancel, e.done = nil, nil
	e.state = StateIdle
	e.mu.Unlock()

	if e.notify != nil {
		e.notify(StateCompleted)
	}

	log.Info().Str("device", e.deviceID).Msg("Transition completed")
}

func (e *Engine) sendFrame(ctx context.Context, frame []color.RGB, brightness uint8) error {
	bri := brightness
	return e.sender.Send(ctx, pipeline.Intent{
		DeviceID:   e.deviceID,
		SegmentID:  e.segmentID,
		Mode:       pipeline.ModePerLED,
		Frame:      frame,
		Brightness: &bri,
	})
}

func lerpBrightness(a, b uint8, p float64) uint8 {
	return uint8(float64(a) + p*(float64(b)-float64(a)) + 0.5)
}

func clampDuration(d time.Duration) time.Duration {
	if d < MinDuration {
		return MinDuration
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}
