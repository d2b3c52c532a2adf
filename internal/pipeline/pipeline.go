package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/glowctl/glowd/internal/wled"
)

// StateWriter is the wire-level write operation the pipeline dispatches to.
type StateWriter interface {
	SetState(ctx context.Context, state wled.State) error
}

// Pipeline encodes intents to wire format and performs the write. Failures
// are returned to the caller without retry; the next interaction naturally
// resends current state, and a stale retry could fight a newer edit.
type Pipeline struct {
	writer StateWriter
}

// New creates a pipeline dispatching to the given writer.
func New(writer StateWriter) *Pipeline {
	return &Pipeline{writer: writer}
}

// Send encodes and writes one intent.
func (p *Pipeline) Send(ctx context.Context, intent Intent) error {
	state, err := Encode(intent)
	if err != nil {
		return err
	}

	if err := p.writer.SetState(ctx, state); err != nil {
		return fmt.Errorf("failed to dispatch intent: %w", err)
	}

	log.Debug().
		Str("device", intent.DeviceID).
		Int("segment", intent.SegmentID).
		Str("mode", intent.Mode.String()).
		Msg("Intent dispatched")

	return nil
}

// Encode translates an intent into the segment-scoped wire object.
func Encode(intent Intent) (wled.State, error) {
	seg := wled.SegmentState{
		ID:  &intent.SegmentID,
		CCT: intent.CCT,
	}

	switch intent.Mode {
	case ModeSolid:
		if intent.Solo == nil {
			return wled.State{}, fmt.Errorf("solid intent without a color")
		}
		c := *intent.Solo
		seg.Col = [][]uint8{{c.R, c.G, c.B}}
	case ModePerLED:
		if len(intent.Frame) == 0 {
			return wled.State{}, fmt.Errorf("per-LED intent without a frame")
		}
		leds := make([]string, len(intent.Frame))
		for i, c := range intent.Frame {
			leds[i] = c.Hex()
		}
		seg.LEDs = leds
	default:
		return wled.State{}, fmt.Errorf("unknown intent mode %d", intent.Mode)
	}

	on := true
	state := wled.State{
		On:         &on,
		Brightness: intent.Brightness,
		Segments:   []wled.SegmentState{seg},
	}
	if intent.Power != nil {
		state.On = intent.Power
	}
	return state, nil
}
