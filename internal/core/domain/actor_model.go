package domain

import (
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_BRIDGE = "bridge"
	ACTOR_ID_MQTT   = "mqtt"

	BRIDGE_STATE_STARTING        = "starting"
	BRIDGE_STATE_STREAMING       = "streaming"
	BRIDGE_STATE_REAUTH_REQUIRED = "reauth_required"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type GetDevicesRequest struct {
	ActorRequestMixIn
}

type GetDevicesResponse struct {
	ActorResponseMixIn
	Devices []DeviceSnapshot
}

// ReauthRequired is sent to the bridge when the vendor API rejected the key.
type ReauthRequired struct{}

// HomeAssistantOnline is sent by the MQTT actor when Home Assistant
// announces itself, so discovery messages can be published again.
type HomeAssistantOnline struct{}

// DeviceSnapshot is a point in time copy of a device session.
type DeviceSnapshot struct {
	Id       string         `json:"id"`
	Type     string         `json:"type"`
	Model    string         `json:"model"`
	Serial   string         `json:"serial"`
	Resolved bool           `json:"resolved"`
	Values   map[string]any `json:"values"`
}

// Events carried on the bridge event stream

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type MeasurementUpdateEvent struct {
	SensorUpdateEventMixIn
	DeviceId string
	Channel  string
	Value    any
}

type BatteryUpdateEvent struct {
	SensorUpdateEventMixIn
	DeviceId   string
	Percentage int
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}
