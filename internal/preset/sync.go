package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/glowctl/glowd/internal/eventbus"
	"github.com/glowctl/glowd/internal/wled"
)

// DeviceClient is the slice of the wire client the sync worker needs.
type DeviceClient interface {
	Presets(ctx context.Context) (map[int]wled.Preset, error)
	SavePreset(ctx context.Context, id int, name string, state wled.State) error
}

// ClientResolver looks up the wire client for a device id.
type ClientResolver func(deviceID string) (DeviceClient, bool)

// SyncCoordinator pushes local preset records to device slots in the
// background. Sync runs detached from interactive work: failures are logged
// and swallowed, local state stays authoritative, and a later manual Resync
// retries.
type SyncCoordinator struct {
	store   *Store
	resolve ClientResolver
	bus     *eventbus.Bus
	limiter *rate.Limiter
	timeout time.Duration

	queue chan string // local ids pending a sync attempt
}

// NewSyncCoordinator creates a sync coordinator. rps bounds device calls so
// background sync never competes with interactive traffic.
func NewSyncCoordinator(store *Store, resolve ClientResolver, bus *eventbus.Bus, rps float64, timeout time.Duration) *SyncCoordinator {
	if rps <= 0 {
		rps = 2.0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SyncCoordinator{
		store:   store,
		resolve: resolve,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: timeout,
		queue:   make(chan string, 64),
	}
}

// SavePreset assigns a local id, persists and returns immediately.
// The device push happens asynchronously; a full queue just means the
// record waits for the next Resync.
func (s *SyncCoordinator) SavePreset(deviceID string, kind Kind, name string, payload json.RawMessage) (*Record, error) {
	rec, err := s.store.Save(deviceID, kind, name, payload)
	if err != nil {
		return nil, err
	}

	select {
	case s.queue <- rec.LocalID:
	default:
		log.Debug().Str("preset", rec.LocalID).Msg("Sync queue full, preset waits for resync")
	}

	return rec, nil
}

// DeletePreset removes only the local record. The device-side slot, if any,
// is left in place.
func (s *SyncCoordinator) DeletePreset(localID string) error {
	return s.store.Delete(localID)
}

// LoadPresets returns the local records for a device.
func (s *SyncCoordinator) LoadPresets(deviceID string) ([]*Record, error) {
	return s.store.List(deviceID)
}

// Resync retries the device push for every record still missing a remote
// id. Failures are logged per record and do not abort the walk.
func (s *SyncCoordinator) Resync(ctx context.Context) {
	records, err := s.store.AllUnsynced()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unsynced presets")
		return
	}

	for _, rec := range records {
		s.syncOne(ctx, rec.LocalID)
	}
}

// Run processes queued sync attempts until ctx is cancelled.
func (s *SyncCoordinator) Run(ctx context.Context) error {
	log.Info().Msg("Preset sync worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Preset sync worker stopping")
			return nil
		case localID := <-s.queue:
			s.syncOne(ctx, localID)
		}
	}
}

// syncOne pushes a single record to its device. Every failure path logs
// and returns: the local record is left unchanged with no user-visible
// error.
func (s *SyncCoordinator) syncOne(ctx context.Context, localID string) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	rec, err := s.store.Get(localID)
	if err != nil {
		// Deleted between enqueue and sync attempt.
		log.Debug().Str("preset", localID).Err(err).Msg("Skipping sync")
		return
	}
	if rec.Synced() {
		return
	}

	client, ok := s.resolve(rec.DeviceID)
	if !ok {
		log.Debug().Str("device", rec.DeviceID).Msg("No client for device, preset stays local")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remoteID, err := s.push(opCtx, client, rec)
	if err != nil {
		log.Warn().Err(err).Str("preset", rec.LocalID).Msg("Preset sync failed, local record kept")
		return
	}

	if err := s.store.AttachRemote(rec.LocalID, remoteID); err != nil {
		log.Error().Err(err).Str("preset", rec.LocalID).Msg("Failed to attach remote id")
		return
	}

	if s.bus != nil {
		s.bus.PublishPresetSynced(rec.DeviceID, rec.LocalID, remoteID)
	}

	log.Info().
		Str("preset", rec.LocalID).
		Str("device", rec.DeviceID).
		Int("remote_id", remoteID).
		Msg("Preset synced to device")
}

// push fetches the device preset table, picks the lowest unused slot in the
// valid range for the record kind and writes the payload there.
func (s *SyncCoordinator) push(ctx context.Context, client DeviceClient, rec *Record) (int, error) {
	existing, err := client.Presets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read device preset table: %w", err)
	}

	lo, hi := wled.MinPresetID, wled.MaxPresetID
	if rec.Kind == KindTransition {
		lo, hi = wled.MinPlaylistID, wled.MaxPlaylistID
	}

	remoteID := 0
	for id := lo; id <= hi; id++ {
		if _, taken := existing[id]; !taken {
			remoteID = id
			break
		}
	}
	if remoteID == 0 {
		return 0, fmt.Errorf("no free preset slot in range [%d, %d]", lo, hi)
	}

	var state wled.State
	if err := json.Unmarshal(rec.Payload, &state); err != nil {
		return 0, fmt.Errorf("failed to decode preset payload: %w", err)
	}

	if err := client.SavePreset(ctx, remoteID, rec.Name, state); err != nil {
		return 0, err
	}
	return remoteID, nil
}
