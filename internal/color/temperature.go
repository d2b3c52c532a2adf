package color

// Color-temperature conversion between a normalized warm-to-cool axis and
// RGB. The forward mapping is a 3-anchor piecewise-linear interpolation; the
// inverse is a lossy nearest-anchor approximation used only to repopulate
// control state from a device-reported color.

// Reference anchor colors for the warm / neutral / cool ends of the CCT
// axis. These match the vendor reference whites (~2700K / ~4500K / ~6500K).
var (
	AnchorWarm    = RGB{R: 255, G: 160, B: 70}
	AnchorNeutral = RGB{R: 255, G: 228, B: 206}
	AnchorCool    = RGB{R: 201, G: 226, B: 255}
)

// MinVisibleBrightness is the floor applied by EnsureVisible, as a fraction
// of full scale. Devices without a dedicated CCT channel render a derived
// color directly, and anything below this reads as off.
const MinVisibleBrightness = 0.3

// TemperatureToRGB maps a normalized temperature t in [0,1] to RGB:
// 0 is the warm anchor, 0.5 neutral, 1 cool. t is clamped.
func TemperatureToRGB(t float64) RGB {
	t = clamp01(t)
	if t <= 0.5 {
		return Lerp(AnchorWarm, AnchorNeutral, 2*t)
	}
	return Lerp(AnchorNeutral, AnchorCool, 2*(t-0.5))
}

// RGBToApproxTemperature estimates the normalized temperature that would
// produce a color close to c. This is a best-effort inverse: it picks the
// nearest anchor by RGB distance and blends toward the flanking anchors by
// distance ratio. Round-tripping through TemperatureToRGB is not exact.
// Colors equidistant between two anchors resolve to the warmer side.
func RGBToApproxTemperature(c RGB) float64 {
	cc := c.colorful()
	dw := cc.DistanceRgb(AnchorWarm.colorful())
	dn := cc.DistanceRgb(AnchorNeutral.colorful())
	dc := cc.DistanceRgb(AnchorCool.colorful())

	switch {
	case dw <= dn && dw <= dc:
		// Warm side: slide from 0 toward neutral.
		if dw+dn == 0 {
			return 0
		}
		return 0.5 * (dw / (dw + dn))
	case dc < dn && dc < dw:
		// Cool side: slide from 1 toward neutral.
		if dc+dn == 0 {
			return 1
		}
		return 1 - 0.5*(dc/(dc+dn))
	default:
		// Neutral nearest: lean toward the closer flank.
		if dw <= dc {
			if dn+dw == 0 {
				return 0.5
			}
			return 0.5 - 0.5*(dn/(dn+dw))
		}
		if dn+dc == 0 {
			return 0.5
		}
		return 0.5 + 0.5*(dn/(dn+dc))
	}
}

// EnsureVisible rescales c so its maximum channel meets the visibility
// floor. A fully black input is returned unchanged (there is nothing to
// scale).
func EnsureVisible(c RGB) RGB {
	max := c.R
	if c.G > max {
		max = c.G
	}
	if c.B > max {
		max = c.B
	}
	floor := MinVisibleBrightness * 255.0
	if max == 0 || float64(max) >= floor {
		return c
	}
	scale := floor / float64(max)
	return RGB{
		R: scaleChannel(c.R, scale),
		G: scaleChannel(c.G, scale),
		B: scaleChannel(c.B, scale),
	}
}

func scaleChannel(v uint8, scale float64) uint8 {
	s := float64(v) * scale
	if s > 255 {
		return 255
	}
	return uint8(s + 0.5)
}
