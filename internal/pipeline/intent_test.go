package pipeline

import (
	"context"
	"testing"

	"github.com/glowctl/glowd/internal/color"
	"github.com/glowctl/glowd/internal/wled"
)

var (
	red  = color.RGB{R: 255}
	blue = color.RGB{B: 255}
)

func target(leds int, cct bool) Target {
	return Target{DeviceID: "dev1", SegmentLEDCount: leds, SupportsCCT: cct}
}

func solid(c color.RGB) color.Gradient {
	return color.Normalize([]color.Stop{{ID: "a", Position: 0, Color: c}})
}

func ramp(a, b color.RGB) color.Gradient {
	return color.Normalize([]color.Stop{
		{ID: "a", Position: 0, Color: a},
		{ID: "b", Position: 1, Color: b},
	})
}

func TestBuildIntentModeSelection(t *testing.T) {
	tests := []struct {
		name     string
		target   Target
		gradient color.Gradient
		temps    []float64
		mode     Mode
		wantCCT  bool
	}{
		{
			name:     "single_stop_no_cct_is_solid",
			target:   target(30, true),
			gradient: solid(red),
			mode:     ModeSolid,
		},
		{
			name:     "single_stop_with_cct_is_per_led",
			target:   target(30, true),
			gradient: solid(red),
			temps:    []float64{0.5},
			mode:     ModePerLED,
			wantCCT:  true,
		},
		{
			name:     "multi_stop_is_per_led",
			target:   target(30, true),
			gradient: ramp(red, blue),
			mode:     ModePerLED,
		},
		{
			name:     "multi_stop_uniform_temps_carry_cct",
			target:   target(30, true),
			gradient: ramp(red, blue),
			temps:    []float64{0.3, 0.3},
			mode:     ModePerLED,
			wantCCT:  true,
		},
		{
			name:     "multi_stop_mixed_temps_omit_cct",
			target:   target(30, true),
			gradient: ramp(red, blue),
			temps:    []float64{0.3, 0.7},
			mode:     ModePerLED,
		},
		{
			name:     "cct_gated_off_without_capability",
			target:   target(30, false),
			gradient: solid(red),
			temps:    []float64{0.5},
			mode:     ModeSolid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := BuildIntent(tt.target, 0, tt.gradient, tt.temps)
			if err != nil {
				t.Fatalf("BuildIntent failed: %v", err)
			}
			if intent.Mode != tt.mode {
				t.Errorf("mode = %v, want %v", intent.Mode, tt.mode)
			}
			if (intent.CCT != nil) != tt.wantCCT {
				t.Errorf("cct present = %v, want %v", intent.CCT != nil, tt.wantCCT)
			}
			if err := intent.Validate(tt.target.SegmentLEDCount); err != nil {
				t.Errorf("built intent fails validation: %v", err)
			}
		})
	}
}

func TestBuildIntentFrameLength(t *testing.T) {
	intent, err := BuildIntent(target(12, false), 0, ramp(red, blue), nil)
	if err != nil {
		t.Fatalf("BuildIntent failed: %v", err)
	}
	if len(intent.Frame) != 12 {
		t.Errorf("frame length = %d, want segment LED count 12", len(intent.Frame))
	}
}

func TestBuildIntentUniformFrameForSoloCCT(t *testing.T) {
	intent, err := BuildIntent(target(5, true), 0, solid(red), []float64{0.0})
	if err != nil {
		t.Fatalf("BuildIntent failed: %v", err)
	}
	if len(intent.Frame) != 5 {
		t.Fatalf("frame length = %d, want 5", len(intent.Frame))
	}
	for i, c := range intent.Frame {
		if c != red {
			t.Errorf("LED %d = %v, want uniform %v", i, c, red)
		}
	}
	if intent.CCT == nil || *intent.CCT != 0 {
		t.Errorf("cct = %v, want 0 for warm end", intent.CCT)
	}
}

func TestBuildIntentErrors(t *testing.T) {
	if _, err := BuildIntent(target(30, true), 0, color.Gradient{}, nil); err == nil {
		t.Error("expected error for empty gradient")
	}
	if _, err := BuildIntent(target(30, true), 0, ramp(red, blue), []float64{0.5}); err == nil {
		t.Error("expected error for temperature/stop count mismatch")
	}
	if _, err := BuildIntent(target(0, true), 0, solid(red), nil); err == nil {
		t.Error("expected error for unknown segment LED count")
	}
}

type captureWriter struct {
	states []wled.State
	err    error
}

func (w *captureWriter) SetState(_ context.Context, s wled.State) error {
	if w.err != nil {
		return w.err
	}
	w.states = append(w.states, s)
	return nil
}

func TestEncodeSolid(t *testing.T) {
	solo := red
	seg := 2
	state, err := Encode(Intent{DeviceID: "d", SegmentID: seg, Mode: ModeSolid, Solo: &solo})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(state.Segments) != 1 {
		t.Fatalf("expected one segment, got %d", len(state.Segments))
	}
	s := state.Segments[0]
	if s.ID == nil || *s.ID != seg {
		t.Errorf("segment id = %v, want %d", s.ID, seg)
	}
	if len(s.Col) != 1 || s.Col[0][0] != 255 || s.Col[0][1] != 0 || s.Col[0][2] != 0 {
		t.Errorf("col = %v, want [[255 0 0]]", s.Col)
	}
	if state.On == nil || !*state.On {
		t.Errorf("solid write should assert power on")
	}
}

func TestEncodePerLEDHexFrame(t *testing.T) {
	state, err := Encode(Intent{Mode: ModePerLED, Frame: []color.RGB{red, blue}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	leds := state.Segments[0].LEDs
	if len(leds) != 2 || leds[0] != "FF0000" || leds[1] != "0000FF" {
		t.Errorf("per-LED frame = %v, want [FF0000 0000FF]", leds)
	}
}

func TestPipelineSendNoRetry(t *testing.T) {
	w := &captureWriter{err: context.DeadlineExceeded}
	p := New(w)

	solo := red
	err := p.Send(context.Background(), Intent{Mode: ModeSolid, Solo: &solo})
	if err == nil {
		t.Fatal("expected dispatch error to propagate")
	}
	if len(w.states) != 0 {
		t.Errorf("failed dispatch must not be retried, saw %d writes", len(w.states))
	}
}
