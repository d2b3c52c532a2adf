// Package pipeline turns gradient and temperature edits into device-scoped
// color commands and dispatches them over the wire.
package pipeline

import (
	"fmt"

	"github.com/glowctl/glowd/internal/color"
)

// Mode selects how an intent addresses the segment.
type Mode int

const (
	// ModeSolid sets one color for the whole segment.
	ModeSolid Mode = iota
	// ModePerLED sets an explicit color per LED.
	ModePerLED
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeSolid:
		return "solid"
	case ModePerLED:
		return "per_led"
	default:
		return "unknown"
	}
}

// Intent is a fully built device-scoped color command. It is a value object
// owned by the caller for the duration of one dispatch.
type Intent struct {
	DeviceID  string
	SegmentID int
	Mode      Mode

	// Solo is set in ModeSolid.
	Solo *color.RGB
	// Frame is set in ModePerLED and must match the segment LED count.
	Frame []color.RGB

	// CCT is the optional color-temperature channel value (0-255).
	CCT *uint8

	Brightness *uint8
	Power      *bool
}

// Target carries the device properties intent building depends on.
type Target struct {
	DeviceID        string
	SegmentLEDCount int

	// SupportsCCT gates the color-temperature channel. When false the cct
	// field is never emitted, even if the edit carried temperatures.
	SupportsCCT bool
}

// BuildIntent builds a color command from a gradient edit.
//
// temps optionally carries one normalized temperature per stop. The cct
// field is included only when every stop shares exactly one temperature;
// mixed temperatures fall back to pure per-LED RGB. A single stop with a
// temperature still produces a per-LED payload with a uniform frame, since
// the devices require a per-LED payload to accept a simultaneous CCT value.
func BuildIntent(target Target, segmentID int, g color.Gradient, temps []float64) (Intent, error) {
	if len(g) == 0 {
		return Intent{}, fmt.Errorf("gradient has no stops")
	}
	if len(temps) > 0 && len(temps) != len(g) {
		return Intent{}, fmt.Errorf("temperature count %d does not match stop count %d", len(temps), len(g))
	}
	if target.SegmentLEDCount <= 0 {
		return Intent{}, fmt.Errorf("segment LED count not known for device %s", target.DeviceID)
	}

	cct := uniformCCT(temps)
	if !target.SupportsCCT {
		cct = nil
	}

	intent := Intent{
		DeviceID:  target.DeviceID,
		SegmentID: segmentID,
		CCT:       cct,
	}

	if g.Solid() && cct == nil {
		intent.Mode = ModeSolid
		solo := g[0].Color
		intent.Solo = &solo
		return intent, nil
	}

	intent.Mode = ModePerLED
	if g.Solid() {
		// Uniform frame carrying the solid color alongside the cct field.
		frame := make([]color.RGB, target.SegmentLEDCount)
		for i := range frame {
			frame[i] = g[0].Color
		}
		intent.Frame = frame
		return intent, nil
	}

	intent.Frame = g.Frame(target.SegmentLEDCount)
	return intent, nil
}

// uniformCCT returns the shared temperature as a wire byte when all stops
// carry exactly the same value, nil otherwise.
func uniformCCT(temps []float64) *uint8 {
	if len(temps) == 0 {
		return nil
	}
	for _, t := range temps[1:] {
		if t != temps[0] {
			return nil
		}
	}
	v := cctByte(temps[0])
	return &v
}

func cctByte(t float64) uint8 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return uint8(t*255 + 0.5)
}

// Validate checks intent invariants against the target segment.
func (in Intent) Validate(ledCount int) error {
	switch in.Mode {
	case ModeSolid:
		if in.Solo == nil {
			return fmt.Errorf("solid intent without a color")
		}
	case ModePerLED:
		if len(in.Frame) != ledCount {
			return fmt.Errorf("per-LED frame length %d does not match segment LED count %d", len(in.Frame), ledCount)
		}
	default:
		return fmt.Errorf("unknown intent mode %d", in.Mode)
	}
	return nil
}
