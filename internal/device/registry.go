package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glowctl/glowd/internal/preset"
	"github.com/glowctl/glowd/internal/wled"
)

// Config describes one configured device.
type Config struct {
	Name    string
	Address string
	LEDs    int
}

// Registry owns the set of device controllers. Controllers are created
// lazily on first use and shared from then on.
type Registry struct {
	ctx     context.Context
	deps    Deps
	timeout time.Duration

	mu          sync.Mutex
	configs     map[string]Config
	controllers map[string]*Controller

	// Channel to trigger an off-schedule refresh
	trigger chan struct{}
}

// NewRegistry creates a registry for the configured devices. ctx bounds the
// lifetime of deferred throttled writes made by the controllers.
func NewRegistry(ctx context.Context, configs []Config, deps Deps, timeout time.Duration) *Registry {
	byName := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		byName[cfg.Name] = cfg
	}
	return &Registry{
		ctx:         ctx,
		deps:        deps,
		timeout:     timeout,
		configs:     byName,
		controllers: make(map[string]*Controller),
		trigger:     make(chan struct{}, 1),
	}
}

// Get returns the controller for a known device id, creating it on first
// use. Unknown ids return an error.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctrl, ok := r.controllers[id]; ok {
		return ctrl, nil
	}

	cfg, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", id)
	}

	deps := r.deps
	if cfg.LEDs > 0 {
		deps.FallbackLEDCount = cfg.LEDs
	}
	ctrl := NewController(r.ctx, id, wled.NewClient(cfg.Address, r.timeout), deps)
	r.controllers[id] = ctrl

	log.Info().
		Str("device", id).
		Str("address", cfg.Address).
		Msg("Device controller created")

	return ctrl, nil
}

// All returns the controllers created so far.
func (r *Registry) All() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Controller, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		out = append(out, ctrl)
	}
	return out
}

// Names returns the configured device ids.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.configs))
	for name := range r.configs {
		out = append(out, name)
	}
	return out
}

// Resolver adapts the registry for the preset sync worker.
func (r *Registry) Resolver() preset.ClientResolver {
	return func(deviceID string) (preset.DeviceClient, bool) {
		ctrl, err := r.Get(deviceID)
		if err != nil {
			return nil, false
		}
		return ctrl.Client(), true
	}
}

// Trigger requests an off-schedule refresh pass.
func (r *Registry) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// RunRefresh periodically re-reads every configured device so published
// snapshots and optimistic state stay reconciled against reality.
func (r *Registry) RunRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log.Info().Dur("interval", interval).Msg("Device refresh loop started")

	r.refreshAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Device refresh loop stopping")
			return nil

		case <-r.trigger:
			r.refreshAll(ctx)

		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Registry) refreshAll(ctx context.Context) {
	for _, name := range r.Names() {
		ctrl, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := ctrl.Refresh(ctx); err != nil {
			// Unreachable devices stay on cached state until the next pass.
			log.Warn().Err(err).Str("device", name).Msg("Device refresh failed")
		}
	}
}

// Close shuts down every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ctrl := range r.controllers {
		ctrl.Close()
	}
}
