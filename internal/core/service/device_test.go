package service

import (
	"context"
	"testing"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func singleDevice(t *testing.T, api *fakeAPI, opts ...HubOption) (*Hub, *Device) {
	api.devices = []energylive.DeviceDescriptor{{ID: "A"}}
	api.details["A"] = energylive.DeviceDetails{Type: domain.DEVICE_TYPE_GATEWAY, Serial: "S1"}
	api.channels["A"] = []string{domain.CHANNEL_ROOM_TEMPERATURE}
	hub := NewHub(api, zap.NewNop(), opts...)
	devices, err := hub.GetDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	return hub, devices[0]
}

func TestResolveDetailsIdempotent(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	require.False(dev.Resolved())
	require.NoError(dev.ResolveDetails(context.Background()))
	require.NoError(dev.ResolveDetails(context.Background()))

	_, details, channels := api.calls()
	require.Equal(1, details)
	require.Equal(1, channels)

	require.True(dev.Resolved())
	require.Equal(domain.DEVICE_TYPE_GATEWAY, dev.Type())
	require.Equal("S1", dev.Serial())
	require.Equal([]string{domain.CHANNEL_ROOM_TEMPERATURE}, dev.Channels())

	v, ok := dev.Value(domain.CHANNEL_ROOM_TEMPERATURE)
	require.False(ok, "unknown until first update")
	require.Nil(v)
}

func TestResolveDetailsForbidden(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	reauth := &countingReauth{}
	_, dev := singleDevice(t, api, WithReauthHandler(reauth))
	api.detailsErr = energylive.ErrForbidden

	assert.NoError(dev.ResolveDetails(context.Background()))
	assert.False(dev.Resolved())
	assert.Empty(dev.Channels())
	assert.Equal(int32(1), reauth.n.Load())

	// resolution may be retried later
	api.mu.Lock()
	api.detailsErr = nil
	api.mu.Unlock()
	assert.NoError(dev.ResolveDetails(context.Background()))
	assert.True(dev.Resolved())
}

func TestResolveKeepsStreamValues(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 19.0)
	assert.NoError(dev.ResolveDetails(context.Background()))

	v, ok := dev.Value(domain.CHANNEL_ROOM_TEMPERATURE)
	assert.True(ok)
	assert.Equal(19.0, v)
}

func TestApplyUpdateNotifiesObservers(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	temp := &countingObserver{}
	other := &countingObserver{}
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, temp)
	dev.RegisterObserver(domain.CHANNEL_ROOM_HUMIDITY, other)

	dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 21.5)

	assert.Equal(int32(1), temp.n.Load())
	assert.Equal(int32(0), other.n.Load())
	v, _ := dev.Value(domain.CHANNEL_ROOM_TEMPERATURE)
	assert.Equal(21.5, v)
}

func TestObserverSetSemantics(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	obs := &countingObserver{}
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
	dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 1.0)
	assert.Equal(int32(1), obs.n.Load(), "registered twice, notified once")

	dev.RemoveObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
	dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 2.0)
	assert.Equal(int32(1), obs.n.Load())

	for i := 0; i < 3; i++ {
		dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
		dev.RemoveObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
		dev.RemoveObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)
	}
	dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 3.0)
	assert.Equal(int32(1), obs.n.Load())

	// removing an unknown observer is a no-op
	dev.RemoveObserver("nope", obs)
}

func TestObserverFailureDoesNotStopDelivery(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	before := &countingObserver{}
	after := &countingObserver{}
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, before)
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, &panickingObserver{})
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, after)

	assert.NotPanics(func() {
		dev.ApplyUpdate(domain.CHANNEL_ROOM_TEMPERATURE, 20.0)
	})
	assert.Equal(int32(1), before.n.Load())
	assert.Equal(int32(1), after.n.Load())
}

func TestApplyUpdateUnseenChannel(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)
	assert.NoError(dev.ResolveDetails(context.Background()))

	dev.ApplyUpdate(domain.CHANNEL_LORA_RSSI, -91.0)

	v, ok := dev.Value(domain.CHANNEL_LORA_RSSI)
	assert.True(ok)
	assert.Equal(-91.0, v)
	assert.Contains(dev.Channels(), domain.CHANNEL_LORA_RSSI)

	snap := dev.Snapshot()
	assert.Equal("A", snap.Id)
	assert.Equal("Gateway", snap.Model)
	assert.True(snap.Resolved)
	assert.Len(snap.Values, 2)
}
