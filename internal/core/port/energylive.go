package port

import (
	"context"
	"time"

	"github.com/berfenger/energylive2mqtt/pkg/energylive"
)

// EnergyLiveAPI is the vendor cloud as seen by the device sessions.
type EnergyLiveAPI interface {
	ListDevices(ctx context.Context) ([]energylive.DeviceDescriptor, error)
	GetDeviceDetails(ctx context.Context, id string) (energylive.DeviceDetails, error)
	ListMeasurements(ctx context.Context, id string) ([]string, error)
	OpenLiveStream(ctx context.Context, id string) (LineStream, error)
}

type LineStream interface {
	Next() (string, error)
	Close() error
}

// Observer is notified after a channel value changed. Implementations are
// registered by identity, so they must be comparable (pointer types).
type Observer interface {
	MeasurementUpdated()
}

// ObserverFunc adapts a function to Observer. Each *ObserverFunc is a
// distinct observer.
type ObserverFunc func()

func (f *ObserverFunc) MeasurementUpdated() {
	(*f)()
}

// ReauthHandler is told when the server rejected the API key.
type ReauthHandler interface {
	RequestReauth()
}

type StreamState string

const (
	StreamConnecting StreamState = "connecting"
	StreamStreaming  StreamState = "streaming"
	StreamClosing    StreamState = "closing"
	StreamCooldown   StreamState = "cooldown"
	StreamStopped    StreamState = "stopped"
)

type StreamMetrics interface {
	StateChanged(deviceId string, state StreamState)
	RecordParsed(deviceId, channel string, value any)
	RecordDiscarded(deviceId string)
	Reconnect(deviceId string, cooldown time.Duration)
}

type NopStreamMetrics struct{}

func (NopStreamMetrics) StateChanged(string, StreamState) {}
func (NopStreamMetrics) RecordParsed(string, string, any) {}
func (NopStreamMetrics) RecordDiscarded(string)           {}
func (NopStreamMetrics) Reconnect(string, time.Duration)  {}
