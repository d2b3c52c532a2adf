package wled

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(strings.TrimPrefix(server.URL, "http://"), time.Second)
}

func TestFetchParsesDeviceDocument(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"state": {"on": true, "bri": 180},
			"info": {
				"name": "shelf",
				"ver": "0.14.0",
				"leds": {"count": 60, "seglc": [30, 30], "maxseg": 16, "cct": true}
			}
		}`))
	})

	dev, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if dev.State.On == nil || !*dev.State.On {
		t.Error("state.on should parse true")
	}
	if dev.State.Brightness == nil || *dev.State.Brightness != 180 {
		t.Error("state.bri should parse 180")
	}
	if dev.Info.Name != "shelf" || !dev.Info.LEDs.CCT {
		t.Errorf("info parsed wrong: %+v", dev.Info)
	}
	if got := dev.Info.SegmentLEDCount(1); got != 30 {
		t.Errorf("SegmentLEDCount(1) = %d, want 30", got)
	}
	if got := dev.Info.SegmentLEDCount(5); got != 60 {
		t.Errorf("SegmentLEDCount(5) = %d, want strip total 60", got)
	}
}

func TestSetStateOmitsUnsetFields(t *testing.T) {
	var body map[string]json.RawMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/json/state" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"success":true}`))
	})

	on := true
	if err := client.SetState(context.Background(), State{On: &on}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	if _, ok := body["on"]; !ok {
		t.Error("payload should carry the on field")
	}
	for _, field := range []string{"bri", "seg", "transition", "psave"} {
		if _, ok := body[field]; ok {
			t.Errorf("unset field %q must be omitted so the device leaves it untouched", field)
		}
	}
}

func TestSetStateSurfacesRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "segment out of range", http.StatusBadRequest)
	})

	err := client.SetState(context.Background(), State{})
	if err == nil {
		t.Fatal("rejected write should error")
	}
	if !strings.Contains(err.Error(), "segment out of range") {
		t.Errorf("error should carry the device response, got %v", err)
	}
}

func TestPresetsSkipsBootSlotAndEmptySlots(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/presets.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"0": {"on": true},
			"1": {"n": "sunset", "on": true, "bri": 120},
			"2": {},
			"7": {"n": "focus"}
		}`))
	})

	presets, err := client.Presets(context.Background())
	if err != nil {
		t.Fatalf("Presets() error = %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("presets = %d, want 2 (boot and empty slots skipped)", len(presets))
	}
	if presets[1].Name != "sunset" {
		t.Errorf("preset 1 name = %q, want sunset", presets[1].Name)
	}
	if presets[7].Name != "focus" {
		t.Errorf("preset 7 name = %q, want focus", presets[7].Name)
	}
	if len(presets[1].Payload) == 0 {
		t.Error("payload should retain the raw document")
	}
}

func TestSavePresetSetsSaveFields(t *testing.T) {
	var body State
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"success":true}`))
	})

	on := true
	if err := client.SavePreset(context.Background(), 12, "evening", State{On: &on}); err != nil {
		t.Fatalf("SavePreset() error = %v", err)
	}
	if body.PresetSave == nil || *body.PresetSave != 12 {
		t.Error("payload should carry psave=12")
	}
	if body.PresetName != "evening" {
		t.Errorf("payload name = %q, want evening", body.PresetName)
	}
}

func TestSavePresetRejectsOutOfRangeIDs(t *testing.T) {
	client := NewClient("127.0.0.1:1", time.Second)

	for _, id := range []int{0, -3, 251} {
		if err := client.SavePreset(context.Background(), id, "x", State{}); err == nil {
			t.Errorf("SavePreset(%d) should reject out-of-range id", id)
		}
	}
}
