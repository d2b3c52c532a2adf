package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glowctl/glowd/internal/config"
	"github.com/glowctl/glowd/internal/db"
	"github.com/glowctl/glowd/internal/device"
	"github.com/glowctl/glowd/internal/eventbus"
	"github.com/glowctl/glowd/internal/kv"
	"github.com/glowctl/glowd/internal/optimistic"
	"github.com/glowctl/glowd/internal/preset"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB  *db.DB
	KV  *kv.Manager
	Bus *eventbus.Bus

	// State coordination
	Optimistic *optimistic.Coordinator

	// Preset persistence and background sync
	Presets *preset.Store
	Sync    *preset.SyncCoordinator

	// Device control
	Devices *device.Registry

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
// The context bounds deferred work spawned by device controllers.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize key-value buckets
	s.KV = kv.NewManager(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize optimistic state coordinator
	s.Optimistic = optimistic.New(cfg.Optimistic.Window.Duration())

	// Initialize preset store
	s.Presets = preset.NewStore(database.DB)

	// Initialize device registry
	deviceConfigs := make([]device.Config, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		deviceConfigs = append(deviceConfigs, device.Config{
			Name:    d.Name,
			Address: d.Address,
			LEDs:    d.LEDs,
		})
	}
	s.Devices = device.NewRegistry(ctx, deviceConfigs, device.Deps{
		Optimistic:   s.Optimistic,
		Bus:          s.Bus,
		Gradients:    s.KV.Bucket("gradients", true),
		Durations:    s.KV.Bucket("durations", true),
		Window:       cfg.Throttle.Window.Duration(),
		DualWindow:   cfg.Throttle.DualWindow.Duration(),
		MaxWriteRate: cfg.Transition.MaxWriteRate,
	}, cfg.Device.Timeout.Duration())

	// Initialize preset sync coordinator
	s.Sync = preset.NewSyncCoordinator(
		s.Presets,
		s.Devices.Resolver(),
		s.Bus,
		cfg.Presets.SyncRPS,
		cfg.Presets.SyncTimeout.Duration(),
	)

	return s, nil
}

// Start starts all background services.
// The onFatalError callback is called when a service loop fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.runLoop(ctx, "preset sync", onFatalError, s.Sync.Run)
	s.runLoop(ctx, "device refresh", onFatalError, func(ctx context.Context) error {
		return s.Devices.RunRefresh(ctx, s.cfg.Device.RefreshInterval.Duration())
	})

	// Queue any records left unsynced by an earlier run.
	s.Sync.Resync(ctx)

	return nil
}

func (s *Services) runLoop(ctx context.Context, name string, onFatalError func(error), run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil {
			log.Error().Err(err).Str("service", name).Msg("Service loop failed")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Devices != nil {
		s.Devices.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
