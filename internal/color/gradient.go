// Package color provides the pure color math for glowd: gradient sampling
// and color-temperature conversion. Everything in this package is
// deterministic and side-effect free.
package color

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit-per-channel color as sent to the device.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the color as an uppercase RRGGBB string (no leading '#'),
// the format the device wire protocol expects for per-LED frames.
func (c RGB) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHex parses an RRGGBB or #RRGGBB string into an RGB value.
func ParseHex(s string) (RGB, error) {
	if len(s) > 0 && s[0] != '#' {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("failed to parse hex color: %w", err)
	}
	return fromColorful(c), nil
}

func (c RGB) colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
}

func fromColorful(c colorful.Color) RGB {
	r, g, b := c.Clamped().RGB255()
	return RGB{R: r, G: g, B: b}
}

// Lerp blends two colors linearly per channel in RGB space.
func Lerp(a, b RGB, t float64) RGB {
	return fromColorful(a.colorful().BlendRgb(b.colorful(), t))
}

// Stop is a single keypoint of a gradient.
type Stop struct {
	ID       string  `json:"id"`
	Position float64 `json:"position"` // in [0,1]
	Color    RGB     `json:"color"`
}

// NewStop creates a stop with a fresh id.
func NewStop(position float64, c RGB) Stop {
	return Stop{ID: uuid.NewString(), Position: clamp01(position), Color: c}
}

// Gradient is an ordered list of stops sorted ascending by position.
// A single-stop gradient denotes a solid color. Callers must never pass a
// zero-stop gradient; that is an input-contract violation, not a runtime
// condition this package handles.
type Gradient []Stop

// Normalize sorts stops by position, clamps positions to [0,1] and resolves
// duplicate positions last-wins.
func Normalize(stops []Stop) Gradient {
	out := make([]Stop, len(stops))
	copy(out, stops)
	for i := range out {
		out[i].Position = clamp01(out[i].Position)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	// Last-wins on duplicate positions: keep the later entry of each run.
	dedup := out[:0]
	for i := 0; i < len(out); i++ {
		if i+1 < len(out) && out[i+1].Position == out[i].Position {
			continue
		}
		dedup = append(dedup, out[i])
	}
	return Gradient(dedup)
}

// Clone returns a deep copy of the gradient.
func (g Gradient) Clone() Gradient {
	out := make(Gradient, len(g))
	copy(out, g)
	return out
}

// Sample returns the gradient color at position t. Values of t outside
// [0,1] clamp to the first/last stop.
func (g Gradient) Sample(t float64) RGB {
	t = clamp01(t)

	if t <= g[0].Position {
		return g[0].Color
	}
	last := g[len(g)-1]
	if t >= last.Position {
		return last.Color
	}

	// Find the bracketing pair and interpolate by fractional distance.
	for i := 0; i < len(g)-1; i++ {
		lo, hi := g[i], g[i+1]
		if t < lo.Position || t > hi.Position {
			continue
		}
		span := hi.Position - lo.Position
		if span == 0 {
			return hi.Color
		}
		return Lerp(lo.Color, hi.Color, (t-lo.Position)/span)
	}
	return last.Color
}

// Frame samples the gradient once per LED, at t = i/(ledCount-1).
// A single LED samples at t=0.
func (g Gradient) Frame(ledCount int) []RGB {
	if ledCount <= 0 {
		return nil
	}
	frame := make([]RGB, ledCount)
	if ledCount == 1 {
		frame[0] = g.Sample(0)
		return frame
	}
	for i := 0; i < ledCount; i++ {
		frame[i] = g.Sample(float64(i) / float64(ledCount-1))
	}
	return frame
}

// Solid reports whether the gradient denotes a single solid color.
func (g Gradient) Solid() bool {
	return len(g) == 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
