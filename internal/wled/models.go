package wled

import "encoding/json"

// State is the segment-scoped device state object, used both for writes
// (fields left nil are omitted and untouched on the device) and for reads.
type State struct {
	On         *bool          `json:"on,omitempty"`
	Brightness *uint8         `json:"bri,omitempty"`
	Transition *int           `json:"transition,omitempty"`
	Segments   []SegmentState `json:"seg,omitempty"`

	// Preset save fields; only meaningful on writes.
	PresetSave *int   `json:"psave,omitempty"`
	PresetName string `json:"n,omitempty"`
}

// SegmentState addresses one contiguous LED range.
type SegmentState struct {
	ID         *int   `json:"id,omitempty"`
	Start      *int   `json:"start,omitempty"`
	Stop       *int   `json:"stop,omitempty"`
	Length     *int   `json:"len,omitempty"`
	On         *bool  `json:"on,omitempty"`
	Brightness *uint8 `json:"bri,omitempty"`

	// Col carries up to three slot colors; the first slot is the primary
	// color for solid fills.
	Col [][]uint8 `json:"col,omitempty"`

	// LEDs is a per-LED hex-color frame ("RRGGBB" strings).
	LEDs []string `json:"i,omitempty"`

	// CCT is the optional color-temperature channel (0-255).
	CCT *uint8 `json:"cct,omitempty"`
}

// Info is the device information document.
type Info struct {
	Name    string  `json:"name"`
	Version string  `json:"ver"`
	LEDs    LEDInfo `json:"leds"`
}

// LEDInfo describes the LED layout and capabilities.
type LEDInfo struct {
	Count         int   `json:"count"`
	SegmentCounts []int `json:"seglc"`
	MaxSegments   int   `json:"maxseg"`

	// CCT reports whether the device exposes a dedicated color-temperature
	// channel. A missing field decodes to false, which gates CCT support
	// off rather than failing.
	CCT bool `json:"cct"`
}

// SegmentLEDCount returns the LED count of a segment, falling back to the
// total strip length when the device does not report per-segment counts.
func (i Info) SegmentLEDCount(segmentID int) int {
	if segmentID >= 0 && segmentID < len(i.LEDs.SegmentCounts) {
		return i.LEDs.SegmentCounts[segmentID]
	}
	return i.LEDs.Count
}

// Device is the full info+state document returned by the read endpoint.
type Device struct {
	State State `json:"state"`
	Info  Info  `json:"info"`
}

// Preset is one entry of the device preset table. Payload retains the raw
// document so unknown fields survive a round trip.
type Preset struct {
	Name    string          `json:"n"`
	Payload json.RawMessage `json:"-"`
}

// Preset id ranges: single presets occupy the low range, multi-step
// playlists the dedicated range above it.
const (
	MinPresetID   = 1
	MaxPresetID   = 250
	MinPlaylistID = 1
	MaxPlaylistID = 16
)
