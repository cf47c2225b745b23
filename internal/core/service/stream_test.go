package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func TestStreamEndToEnd(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	hub, dev := singleDevice(t, api, WithCooldown(time.Hour))
	require.NoError(dev.ResolveDetails(context.Background()))

	obs := &countingObserver{}
	dev.RegisterObserver(domain.CHANNEL_ROOM_TEMPERATURE, obs)

	api.streams <- openResult{lines: []string{
		`data: {"measurement":"roomTemperature","value":`,
		``,
		`data: {"measurement":"roomTemperature","value":21.5}`,
	}}
	hub.StartStreams(context.Background())
	defer hub.Close()

	require.Eventually(func() bool {
		v, ok := dev.Value(domain.CHANNEL_ROOM_TEMPERATURE)
		return ok && v == 21.5
	}, waitFor, tick)
	require.Equal(int32(1), obs.n.Load(), "malformed line notifies nobody")
	require.Eventually(func() bool {
		return dev.StreamState() == port.StreamStreaming
	}, waitFor, tick)
}

func TestStreamStartOnce(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	hub, dev := singleDevice(t, api)

	dev.Start(context.Background())
	dev.Start(context.Background())
	hub.StartStreams(context.Background())

	assert.Eventually(func() bool {
		return len(api.openTimes()) == 1
	}, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Len(api.openTimes(), 1)

	hub.Close()
	assert.Equal(port.StreamStopped, dev.StreamState())
}

func TestStreamReconnectsImmediatelyOnDisconnect(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	hub, dev := singleDevice(t, api, WithCooldown(time.Hour))

	api.streams <- openResult{
		lines: []string{`data: {"measurement":"roomTemperature","value":20}`},
		end:   energylive.ErrReadTimeout,
	}
	api.streams <- openResult{end: errors.Join(errors.New("read"), energylive.ErrReadTimeout)}
	api.streams <- openResult{}
	dev.Start(context.Background())
	defer hub.Close()

	require.Eventually(func() bool {
		return len(api.openedStreams()) == 3
	}, waitFor, tick, "reconnects without cooldown")

	streams := api.openedStreams()
	require.True(streams[0].closed.Load(), "released after read timeout")
	require.True(streams[1].closed.Load(), "released after wrapped read timeout")
	require.False(streams[2].closed.Load())
}

func TestStreamStopsOnForbidden(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	reauth := &countingReauth{}
	hub, dev := singleDevice(t, api, WithCooldown(10*time.Millisecond), WithReauthHandler(reauth))

	api.streams <- openResult{err: energylive.ErrForbidden}
	api.streams <- openResult{}
	dev.Start(context.Background())
	defer hub.Close()

	require.Eventually(func() bool {
		return reauth.n.Load() == 1 && dev.StreamState() == port.StreamStopped
	}, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	require.Len(api.openTimes(), 1, "no reconnect after rejection")
	require.Equal(int32(1), reauth.n.Load())
}

func TestStreamCooldownOnUnexpectedError(t *testing.T) {

	require := require.New(t)

	cooldown := 300 * time.Millisecond
	api := newFakeAPI()
	hub, dev := singleDevice(t, api, WithCooldown(cooldown))

	api.streams <- openResult{end: errors.New("tls: bad record MAC")}
	api.streams <- openResult{}
	dev.Start(context.Background())
	defer hub.Close()

	require.Eventually(func() bool {
		return dev.StreamState() == port.StreamCooldown
	}, waitFor, tick)
	streams := api.openedStreams()
	require.Len(streams, 1)
	require.True(streams[0].closed.Load(), "released before cooldown")

	require.Eventually(func() bool {
		return len(api.openTimes()) == 2
	}, waitFor, tick)

	opens := api.openTimes()
	require.GreaterOrEqual(opens[1].Sub(opens[0]), cooldown)
}

func TestStreamCooldownOnConnectError(t *testing.T) {

	require := require.New(t)

	cooldown := 200 * time.Millisecond
	api := newFakeAPI()
	hub, dev := singleDevice(t, api, WithCooldown(cooldown))

	api.streams <- openResult{err: &energylive.StatusError{Code: 503, Path: "/devices/A/measurements/live"}}
	api.streams <- openResult{}
	dev.Start(context.Background())
	defer hub.Close()

	require.Eventually(func() bool {
		return len(api.openTimes()) == 2
	}, waitFor, tick)
	opens := api.openTimes()
	require.GreaterOrEqual(opens[1].Sub(opens[0]), cooldown)
}

func TestStreamStopDuringCooldown(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	hub, dev := singleDevice(t, api, WithCooldown(time.Hour))

	api.streams <- openResult{end: errors.New("boom")}
	dev.Start(context.Background())

	require.Eventually(func() bool {
		return dev.StreamState() == port.StreamCooldown
	}, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		hub.Close()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		require.Fail("stop blocked during cooldown")
	}
	require.Equal(port.StreamStopped, dev.StreamState())
}

func TestStreamStopWhileStreamingClosesStream(t *testing.T) {

	require := require.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	api.streams <- openResult{}
	dev.Start(context.Background())
	require.Eventually(func() bool {
		return dev.StreamState() == port.StreamStreaming
	}, waitFor, tick)

	streams := api.openedStreams()
	require.Len(streams, 1)
	require.False(streams[0].closed.Load())

	dev.Stop()
	require.Equal(port.StreamStopped, dev.StreamState())
	require.True(streams[0].closed.Load(), "released on stop")

	// stopping twice and starting after stop are no-ops
	dev.Stop()
	dev.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.Len(api.openTimes(), 1)
}

func TestStopBeforeStartPreventsStart(t *testing.T) {

	assert := assert.New(t)

	api := newFakeAPI()
	_, dev := singleDevice(t, api)

	dev.Stop()
	dev.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(api.openTimes())
}
