package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/metrics"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBridge struct {
	healthy bool
	devices []domain.DeviceSnapshot
}

func (b *fakeBridge) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_BRIDGE, Healthy: b.healthy})
	case domain.GetDevicesRequest:
		ctx.Respond(domain.GetDevicesResponse{Devices: b.devices})
	}
}

func newTestServer(t *testing.T, bridge *fakeBridge) (*httptest.Server, *eventstream.EventStream, *WSHub) {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return bridge }))

	es := &eventstream.EventStream{}
	hub := NewWSHub(es, zap.NewNop())
	t.Cleanup(hub.Close)

	s := &Server{
		rootContext:    as.Root,
		bridgeActor:    pid,
		metricsHandler: metrics.NewStreamCollector().Handler(),
		wsHub:          hub,
		logger:         zap.NewNop(),
	}
	srv := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(srv.Close)
	return srv, es, hub
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthCheck(t *testing.T) {

	assert := assert.New(t)

	srv, _, _ := newTestServer(t, &fakeBridge{healthy: true})
	code, body := get(t, srv.URL+"/healthcheck")
	assert.Equal(http.StatusOK, code)
	assert.Equal("health_check: OK", body)

	srv, _, _ = newTestServer(t, &fakeBridge{healthy: false})
	code, _ = get(t, srv.URL+"/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, code)
}

func TestDevicesEndpoints(t *testing.T) {

	require := require.New(t)

	srv, _, _ := newTestServer(t, &fakeBridge{devices: []domain.DeviceSnapshot{{
		Id:       "A",
		Type:     domain.DEVICE_TYPE_GATEWAY,
		Model:    "Gateway",
		Resolved: true,
		Values:   map[string]any{domain.CHANNEL_ROOM_TEMPERATURE: 21.5},
	}}})

	code, body := get(t, srv.URL+"/api/devices")
	require.Equal(http.StatusOK, code)
	var devices []domain.DeviceSnapshot
	require.NoError(json.Unmarshal([]byte(body), &devices))
	require.Len(devices, 1)
	require.Equal(21.5, devices[0].Values[domain.CHANNEL_ROOM_TEMPERATURE])

	code, body = get(t, srv.URL+"/api/devices/A")
	require.Equal(http.StatusOK, code)
	require.Contains(body, `"model":"Gateway"`)

	code, _ = get(t, srv.URL+"/api/devices/nope")
	require.Equal(http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {

	assert := assert.New(t)

	srv, _, _ := newTestServer(t, &fakeBridge{})
	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(http.StatusOK, code)
	assert.Contains(body, "go_goroutines")
}

func TestWebSocketRelaysEvents(t *testing.T) {

	require := require.New(t)

	srv, es, hub := newTestServer(t, &fakeBridge{})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?device=A"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(err)
	defer conn.Close()

	require.Eventually(func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// other devices are filtered out
	es.Publish(domain.MeasurementUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "B_roomTemperature"},
		DeviceId:               "B",
		Channel:                domain.CHANNEL_ROOM_TEMPERATURE,
		Value:                  18.0,
	})
	es.Publish(domain.MeasurementUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "A_roomTemperature"},
		DeviceId:               "A",
		Channel:                domain.CHANNEL_ROOM_TEMPERATURE,
		Value:                  21.5,
	})

	require.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var evt WSEvent
	require.NoError(conn.ReadJSON(&evt))
	require.Equal(WS_EVENT_MEASUREMENT, evt.Type)
	require.Equal("A", evt.DeviceId)
	require.Equal("A_roomTemperature", evt.SensorId)
	require.Equal(21.5, evt.Value)
}

func TestEventToWSEvent(t *testing.T) {

	assert := assert.New(t)

	evt := EventToWSEvent(domain.BatteryUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "A_batteryVoltage_battery"},
		DeviceId:               "A",
		Percentage:             62,
	})
	if assert.NotNil(evt) {
		assert.Equal(WS_EVENT_BATTERY, evt.Type)
		assert.Equal(62, evt.Value)
	}

	evt = EventToWSEvent(domain.BridgeStateUpdateEvent{Value: true})
	if assert.NotNil(evt) {
		assert.Equal(WS_EVENT_BRIDGE_STATE, evt.Type)
		assert.Empty(evt.DeviceId)
	}
}
