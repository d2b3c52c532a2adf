package preset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glowctl/glowd/internal/wled"
)

// fakeDevice simulates a controller's preset table. When down, every call
// fails like an unreachable device.
type fakeDevice struct {
	mu    sync.Mutex
	down  bool
	slots map[int]wled.Preset
	saves []int
}

func newFakeDevice(taken ...int) *fakeDevice {
	slots := make(map[int]wled.Preset)
	for _, id := range taken {
		slots[id] = wled.Preset{Name: "existing"}
	}
	return &fakeDevice{slots: slots}
}

func (d *fakeDevice) setDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

func (d *fakeDevice) Presets(context.Context) (map[int]wled.Preset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errors.New("device unreachable")
	}
	out := make(map[int]wled.Preset, len(d.slots))
	for id, p := range d.slots {
		out[id] = p
	}
	return out, nil
}

func (d *fakeDevice) SavePreset(_ context.Context, id int, name string, _ wled.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return errors.New("device unreachable")
	}
	d.slots[id] = wled.Preset{Name: name}
	d.saves = append(d.saves, id)
	return nil
}

func newSync(t *testing.T, dev *fakeDevice) (*SyncCoordinator, *Store) {
	t.Helper()
	store := testStore(t)
	resolve := func(deviceID string) (DeviceClient, bool) {
		return dev, true
	}
	return NewSyncCoordinator(store, resolve, nil, 100, time.Second), store
}

func TestSaveSucceedsWithConnectivityDown(t *testing.T) {
	dev := newFakeDevice()
	dev.setDown(true)
	coord, store := newSync(t, dev)

	rec, err := coord.SavePreset("dev1", KindColor, "Sunset", payload)
	if err != nil {
		t.Fatalf("SavePreset failed with device down: %v", err)
	}

	// The queued attempt fails; the local record stays intact.
	coord.Resync(context.Background())

	got, err := store.Get(rec.LocalID)
	if err != nil {
		t.Fatalf("local record lost: %v", err)
	}
	if got.Synced() {
		t.Error("record synced while connectivity was down")
	}
	if got.Name != "Sunset" {
		t.Errorf("name = %q, want Sunset", got.Name)
	}
}

func TestResyncAfterConnectivityReturns(t *testing.T) {
	dev := newFakeDevice(1, 2)
	dev.setDown(true)
	coord, store := newSync(t, dev)

	rec, _ := coord.SavePreset("dev1", KindColor, "Sunset", payload)
	coord.Resync(context.Background())

	dev.setDown(false)
	coord.Resync(context.Background())

	got, _ := store.Get(rec.LocalID)
	if !got.Synced() {
		t.Fatal("record not synced after connectivity returned")
	}
	// Lowest unused id: 1 and 2 are taken.
	if *got.RemoteID != 3 {
		t.Errorf("remote id = %d, want lowest unused 3", *got.RemoteID)
	}
	if got.Name != "Sunset" || string(got.Payload) != string(payload) {
		t.Errorf("sync mutated the record: %+v", got)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	coord, store := newSync(t, dev)

	rec, _ := coord.SavePreset("dev1", KindColor, "A", payload)
	coord.Resync(context.Background())
	coord.Resync(context.Background())

	got, _ := store.Get(rec.LocalID)
	if got.RemoteID == nil || *got.RemoteID != 1 {
		t.Fatalf("remote id = %v, want 1", got.RemoteID)
	}
	if len(dev.saves) != 1 {
		t.Errorf("device saw %d saves, want exactly 1", len(dev.saves))
	}
}

func TestTransitionPresetsUsePlaylistRange(t *testing.T) {
	dev := newFakeDevice()
	coord, store := newSync(t, dev)

	rec, _ := coord.SavePreset("dev1", KindTransition, "Fade", payload)
	coord.Resync(context.Background())

	got, _ := store.Get(rec.LocalID)
	if !got.Synced() {
		t.Fatal("playlist preset not synced")
	}
	if *got.RemoteID < wled.MinPlaylistID || *got.RemoteID > wled.MaxPlaylistID {
		t.Errorf("remote id %d outside playlist range", *got.RemoteID)
	}
}

func TestDeleteRemovesOnlyLocalRecord(t *testing.T) {
	dev := newFakeDevice()
	coord, store := newSync(t, dev)

	rec, _ := coord.SavePreset("dev1", KindColor, "A", payload)
	coord.Resync(context.Background())

	if err := coord.DeletePreset(rec.LocalID); err != nil {
		t.Fatalf("DeletePreset failed: %v", err)
	}
	if _, err := store.Get(rec.LocalID); err != ErrNotFound {
		t.Error("local record survived delete")
	}

	// Device slot untouched.
	slots, _ := dev.Presets(context.Background())
	if _, ok := slots[1]; !ok {
		t.Error("device slot was cleaned up; remote deletion is out of scope")
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	dev := newFakeDevice()
	coord, store := newSync(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	rec, _ := coord.SavePreset("dev1", KindColor, "A", payload)

	deadline := time.After(3 * time.Second)
	for {
		got, _ := store.Get(rec.LocalID)
		if got != nil && got.Synced() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("worker did not sync queued preset")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
