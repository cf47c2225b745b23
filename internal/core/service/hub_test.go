package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetDevicesFetchedOnce(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	api.devices = []energylive.DeviceDescriptor{{ID: "A"}, {ID: "B"}}
	hub := NewHub(api, zap.NewNop())

	for i := 0; i < 3; i++ {
		devices, err := hub.GetDevices(context.Background())
		require.NoError(err)
		require.Len(devices, 2)
		require.Equal("A", devices[0].ID())
	}
	list, _, _ := api.calls()
	require.Equal(1, list)
	require.Same(hub.Device("B"), hub.Devices()[1])
	require.Nil(hub.Device("C"))
}

func TestGetDevicesRefetchWhileEmpty(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	hub := NewHub(api, zap.NewNop())

	devices, err := hub.GetDevices(context.Background())
	assert.NoError(err)
	assert.Empty(devices)

	api.mu.Lock()
	api.devices = []energylive.DeviceDescriptor{{ID: "A"}}
	api.mu.Unlock()

	devices, err = hub.GetDevices(context.Background())
	assert.NoError(err)
	assert.Len(devices, 1)
	list, _, _ := api.calls()
	assert.Equal(2, list)
}

func TestGetDevicesForbidden(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	api.devicesErr = energylive.ErrForbidden
	reauth := &countingReauth{}
	hub := NewHub(api, zap.NewNop(), WithReauthHandler(reauth))

	devices, err := hub.GetDevices(context.Background())
	assert.NoError(err)
	assert.Empty(devices)
	devices, err = hub.GetDevices(context.Background())
	assert.NoError(err)
	assert.Empty(devices)

	assert.Equal(int32(1), reauth.n.Load(), "reauth fires once per hub")
}

func TestGetDevicesForbiddenWithoutHandler(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	api.devicesErr = energylive.ErrForbidden
	hub := NewHub(api, zap.NewNop())

	devices, err := hub.GetDevices(context.Background())
	assert.NoError(err)
	assert.Empty(devices)
}

func TestGetDevicesError(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	api.devicesErr = errors.New("dial tcp: refused")
	reauth := &countingReauth{}
	hub := NewHub(api, zap.NewNop(), WithReauthHandler(reauth))

	_, err := hub.GetDevices(context.Background())
	assert.ErrorIs(err, api.devicesErr)
	assert.Equal(int32(0), reauth.n.Load())
}

func TestValidateAPIKey(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	api.devices = []energylive.DeviceDescriptor{{ID: "A"}}
	assert.NoError(ValidateAPIKey(context.Background(), api))

	api.devices = nil
	assert.ErrorIs(ValidateAPIKey(context.Background(), api), ErrCannotConnect)

	api.devicesErr = energylive.ErrForbidden
	assert.ErrorIs(ValidateAPIKey(context.Background(), api), ErrInvalidAPIKey)

	api.devicesErr = &energylive.StatusError{Code: 502, Path: "/devices"}
	assert.ErrorIs(ValidateAPIKey(context.Background(), api), ErrCannotConnect)
}

func TestDevicesNotBlockedByFetch(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	api.devices = []energylive.DeviceDescriptor{{ID: "A"}}
	api.listGate = make(chan struct{})
	hub := NewHub(api, zap.NewNop())

	fetched := make(chan []*Device, 1)
	go func() {
		devices, _ := hub.GetDevices(context.Background())
		fetched <- devices
	}()

	read := make(chan []*Device, 1)
	go func() {
		read <- hub.Devices()
	}()
	select {
	case devices := <-read:
		require.Empty(devices)
	case <-time.After(time.Second):
		require.Fail("Devices blocked while the list was being fetched")
	}
	require.Nil(hub.Device("A"))

	close(api.listGate)
	select {
	case devices := <-fetched:
		require.Len(devices, 1)
	case <-time.After(waitFor):
		require.Fail("GetDevices did not return")
	}
	require.NotNil(hub.Device("A"))
}
