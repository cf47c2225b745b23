package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// Device is the session of one metering device. Values and observers are
// guarded by mu; observers run on the caller goroutine after mu is released.
type Device struct {
	id     string
	hub    *Hub
	logger *zap.Logger

	resolveMu sync.Mutex

	mu         sync.Mutex
	deviceType string
	serial     string
	resolved   bool
	values     map[string]any
	observers  map[string]map[port.Observer]struct{}
	state      port.StreamState
	cancel     context.CancelFunc
	done       chan struct{}

	startOnce sync.Once
}

func newDevice(id string, hub *Hub) *Device {
	return &Device{
		id:        id,
		hub:       hub,
		logger:    hub.logger.With(zap.String("device", id)),
		values:    make(map[string]any),
		observers: make(map[string]map[port.Observer]struct{}),
		state:     port.StreamStopped,
	}
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Type() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceType
}

func (d *Device) Serial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serial
}

func (d *Device) Resolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}

// ResolveDetails fetches type, serial and the channel list once. Channels
// start unknown; values the stream delivered earlier are kept.
func (d *Device) ResolveDetails(ctx context.Context) error {
	d.resolveMu.Lock()
	defer d.resolveMu.Unlock()

	if d.Resolved() {
		return nil
	}

	details, err := d.hub.api.GetDeviceDetails(ctx, d.id)
	if err != nil {
		return d.hub.apiError(err, fmt.Sprintf("device %s details", d.id))
	}
	channels, err := d.hub.api.ListMeasurements(ctx, d.id)
	if err != nil {
		return d.hub.apiError(err, fmt.Sprintf("device %s measurements", d.id))
	}

	d.mu.Lock()
	d.deviceType = details.Type
	d.serial = details.Serial
	for _, ch := range channels {
		if _, ok := d.values[ch]; !ok {
			d.values[ch] = nil
		}
	}
	d.resolved = true
	d.mu.Unlock()

	d.logger.Debug("device: details resolved", zap.String("type", details.Type), zap.Int("channels", len(channels)))
	return nil
}

// Value returns the last value of a channel. ok is false while the value is
// unknown.
func (d *Device) Value(channel string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.values[channel]
	return v, v != nil
}

func (d *Device) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	channels := make([]string, 0, len(d.values))
	for ch := range d.values {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

func (d *Device) Snapshot() domain.DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	values := make(map[string]any, len(d.values))
	for ch, v := range d.values {
		values[ch] = v
	}
	return domain.DeviceSnapshot{
		Id:       d.id,
		Type:     d.deviceType,
		Model:    domain.DeviceModel(d.deviceType),
		Serial:   d.serial,
		Resolved: d.resolved,
		Values:   values,
	}
}

func (d *Device) RegisterObserver(channel string, observer port.Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.observers[channel]
	if !ok {
		set = make(map[port.Observer]struct{})
		d.observers[channel] = set
	}
	set[observer] = struct{}{}
}

func (d *Device) RemoveObserver(channel string, observer port.Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.observers[channel]
	if !ok {
		return
	}
	delete(set, observer)
	if len(set) == 0 {
		delete(d.observers, channel)
	}
}

// ApplyUpdate stores the value, creating the channel if needed, and notifies
// the observers of that channel. A panicking observer does not stop delivery
// to the others.
func (d *Device) ApplyUpdate(channel string, value any) {
	d.mu.Lock()
	d.values[channel] = value
	observers := make([]port.Observer, 0, len(d.observers[channel]))
	for obs := range d.observers[channel] {
		observers = append(observers, obs)
	}
	d.mu.Unlock()

	for _, obs := range observers {
		d.notify(channel, obs)
	}
}

func (d *Device) notify(channel string, observer port.Observer) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("device: observer failed", zap.String("channel", channel), zap.Any("panic", r))
		}
	}()
	observer.MeasurementUpdated()
}
