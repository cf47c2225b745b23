package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	"go.uber.org/zap"
)

const DefaultCooldown = 100 * time.Second

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrCannotConnect = errors.New("cannot connect to energyLIVE")
)

// Hub is the account session: it owns the API, the device registry and the
// reauthentication signal shared by every device of the account.
type Hub struct {
	api      port.EnergyLiveAPI
	logger   *zap.Logger
	cooldown time.Duration
	reauth   port.ReauthHandler
	metrics  port.StreamMetrics

	// fetchMu serializes the device list fetch, mu only guards devices
	fetchMu    sync.Mutex
	mu         sync.Mutex
	devices    []*Device
	reauthOnce sync.Once
}

type HubOption func(*Hub)

func WithCooldown(cooldown time.Duration) HubOption {
	return func(h *Hub) {
		h.cooldown = cooldown
	}
}

func WithReauthHandler(handler port.ReauthHandler) HubOption {
	return func(h *Hub) {
		h.reauth = handler
	}
}

func WithStreamMetrics(metrics port.StreamMetrics) HubOption {
	return func(h *Hub) {
		h.metrics = metrics
	}
}

func NewHub(api port.EnergyLiveAPI, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		api:      api,
		logger:   logger,
		cooldown: DefaultCooldown,
		metrics:  port.NopStreamMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetDevices returns the devices of the account. The list is fetched once;
// after a non-empty result it is served from memory. A rejected key yields an
// empty list and fires the reauthentication signal.
func (h *Hub) GetDevices(ctx context.Context) ([]*Device, error) {
	h.fetchMu.Lock()
	defer h.fetchMu.Unlock()

	if devices := h.Devices(); len(devices) > 0 {
		return devices, nil
	}

	descriptors, err := h.api.ListDevices(ctx)
	if err != nil {
		return nil, h.apiError(err, "list devices")
	}

	devices := make([]*Device, 0, len(descriptors))
	for _, desc := range descriptors {
		devices = append(devices, newDevice(desc.ID, h))
	}
	h.mu.Lock()
	h.devices = devices
	h.mu.Unlock()
	h.logger.Debug("hub: devices fetched", zap.Int("count", len(devices)))
	return append([]*Device(nil), devices...), nil
}

// Devices returns the cached device list without network I/O.
func (h *Hub) Devices() []*Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Device(nil), h.devices...)
}

func (h *Hub) Device(id string) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.id == id {
			return d
		}
	}
	return nil
}

// StartStreams starts the live stream loop of every known device.
func (h *Hub) StartStreams(ctx context.Context) {
	for _, d := range h.Devices() {
		d.Start(ctx)
	}
}

// Close stops every device loop and releases the stream connections.
func (h *Hub) Close() {
	var wg sync.WaitGroup
	for _, d := range h.Devices() {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			d.Stop()
		}(d)
	}
	wg.Wait()
}

// apiError turns a rejected key into a silent empty result after firing the
// reauthentication signal. Other errors are wrapped for the caller.
func (h *Hub) apiError(err error, op string) error {
	if errors.Is(err, energylive.ErrForbidden) {
		h.requestReauth()
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (h *Hub) requestReauth() {
	h.reauthOnce.Do(func() {
		if h.reauth == nil {
			h.logger.Debug("hub: api key rejected, no reauth handler bound")
			return
		}
		h.logger.Warn("hub: api key rejected, requesting reauthentication")
		h.reauth.RequestReauth()
	})
}

// ValidateAPIKey checks that the key is accepted and the account has devices.
func ValidateAPIKey(ctx context.Context, api port.EnergyLiveAPI) error {
	devices, err := api.ListDevices(ctx)
	switch {
	case errors.Is(err, energylive.ErrForbidden):
		return ErrInvalidAPIKey
	case err != nil:
		return fmt.Errorf("%w: %v", ErrCannotConnect, err)
	case len(devices) == 0:
		return ErrCannotConnect
	}
	return nil
}
