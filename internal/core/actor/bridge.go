package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/energylive2mqtt/internal/adapter/actor"
	"github.com/berfenger/energylive2mqtt/internal/config"
	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/internal/core/service"
	. "github.com/berfenger/energylive2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// BridgeActor owns the device hub. It discovers the devices of the account,
// publishes their channels on the event stream and keeps the MQTT child in
// sync.
type BridgeActor struct {
	ActorWithStates
	config            *config.Config
	api               port.EnergyLiveAPI
	metrics           port.StreamMetrics
	scheduler         *scheduler.TimerScheduler
	stash             *Stash
	hub               *service.Hub
	devices           []*service.Device
	observers         []registeredObserver
	eventStream       *eventstream.EventStream
	mqttActor         *actor.PID
	haDiscoveryActor  *actor.PID
	mqttActorProvider MQTTActorProvider
	state             string
	healthCheck       healthCheckResult

	logger *zap.Logger
}

type discoveryResult struct {
	Devices []*service.Device
	Error   error
}

type discoveryTick struct {
}

type registeredObserver struct {
	device   *service.Device
	channel  string
	observer port.Observer
}

type healthCheckResult struct {
	mqttActorHealthy bool
	checksReceived   int
	respondTo        *actor.PID
}

func NewBridgeActor(config *config.Config, api port.EnergyLiveAPI, metrics port.StreamMetrics, eventStream *eventstream.EventStream,
	mqttActorProvider MQTTActorProvider, logger *zap.Logger) *BridgeActor {
	if metrics == nil {
		metrics = port.NopStreamMetrics{}
	}
	act := &BridgeActor{
		config:            config,
		api:               api,
		metrics:           metrics,
		stash:             &Stash{},
		eventStream:       eventStream,
		mqttActorProvider: mqttActorProvider,
		state:             domain.BRIDGE_STATE_STARTING,
		logger:            ActorLogger(domain.ACTOR_ID_BRIDGE, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(BridgeStartingState{
		actor: act,
	})
	return act
}

func (state *BridgeActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type BridgeStartingState struct {
	ActorState
	actor *BridgeActor
}

func (state BridgeStartingState) Name() string {
	return domain.BRIDGE_STATE_STARTING
}

func (state BridgeStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("bridge@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.hub = service.NewHub(state.actor.api, state.actor.logger,
			service.WithCooldown(state.actor.config.Stream.Cooldown()),
			service.WithReauthHandler(actorReauthHandler{root: ctx.ActorSystem().Root, pid: ctx.Self()}),
			service.WithStreamMetrics(state.actor.metrics))

		// start MQTT child
		mqttActorPID, err := state.actor.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.actor.mqttActor = mqttActorPID

		state.actor.startDiscovery(ctx)
		state.actor.Become(BridgeDiscoveringState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("bridge@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Discovering state

type BridgeDiscoveringState struct {
	ActorState
	actor *BridgeActor
}

func (state BridgeDiscoveringState) Name() string {
	return "discovering"
}

func (state BridgeDiscoveringState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case discoveryResult:
		if msg.Error != nil || len(msg.Devices) == 0 {
			retry := state.actor.config.Discovery.Retry()
			state.actor.logger.Warn("bridge@discovering no devices found, retrying", zap.Error(msg.Error), zap.Duration("retry", retry))
			state.actor.scheduler.SendOnce(retry, ctx.Self(), discoveryTick{})
			return
		}
		state.actor.logger.Info("bridge@discovering devices found", zap.Int("devices", len(msg.Devices)))
		state.actor.onDevicesDiscovered(ctx, msg.Devices)
		state.actor.Become(BridgeStreamingState{
			actor: state.actor,
		})
	case discoveryTick:
		state.actor.startDiscovery(ctx)
	default:
		state.actor.receiveCommon(ctx)
	}
}

// Streaming state

type BridgeStreamingState struct {
	ActorState
	actor *BridgeActor
}

func (state BridgeStreamingState) Name() string {
	return domain.BRIDGE_STATE_STREAMING
}

func (state BridgeStreamingState) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.HomeAssistantOnline:
		state.actor.logger.Debug("bridge@streaming HomeAssistantOnline")
		if state.actor.haDiscoveryActor != nil {
			ctx.Send(state.actor.haDiscoveryActor, domain.HomeAssistantOnline{})
		}
	default:
		state.actor.receiveCommon(ctx)
	}
}

// Reauth required state. The API key was rejected, nothing is retried until
// the bridge is restarted with a new key.

type BridgeReauthState struct {
	ActorState
	actor *BridgeActor
}

func (state BridgeReauthState) Name() string {
	return domain.BRIDGE_STATE_REAUTH_REQUIRED
}

func (state BridgeReauthState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case discoveryResult, discoveryTick, domain.HomeAssistantOnline, domain.ReauthRequired:
		state.actor.logger.Debug("bridge@reauth ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	default:
		state.actor.receiveCommon(ctx)
	}
}

// Health check state

type BridgeHealthCheckState struct {
	ActorState
	actor *BridgeActor
}

func (state BridgeHealthCheckState) Name() string {
	return "healthcheck"
}

func (state BridgeHealthCheckState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.actor.healthCheck.respond(ctx, state.actor.state)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.actor.logger.Debug("bridge@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.actor.healthCheck.checksReceived++
		if msg.Healthy && msg.Id == domain.ACTOR_ID_MQTT {
			state.actor.healthCheck.mqttActorHealthy = true
		}
		if state.actor.healthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.actor.healthCheck.respond(ctx, state.actor.state)
			state.actor.UnbecomeStacked()
			state.actor.stash.UnstashAll(ctx)
		}
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("bridge@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// receiveCommon handles the messages every running state answers the same way.
func (state *BridgeActor) receiveCommon(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("bridge@default ActorHealthRequest")
		state.healthCheck.reset()
		state.healthCheck.respondTo = ForRequest(msg).ReplyTo(ctx)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		ctx.SetReceiveTimeout(1 * time.Second)
		state.BecomeStacked(BridgeHealthCheckState{
			actor: state,
		})
	case domain.GetDevicesRequest:
		ForRequest(msg).Respond(ctx, domain.GetDevicesResponse{
			Devices: state.snapshots(),
		})
	case domain.ReauthRequired:
		state.logger.Error("bridge@default API key rejected, a new key is required")
		state.state = domain.BRIDGE_STATE_REAUTH_REQUIRED
		state.publishEvent(domain.BridgeStateUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_BRIDGE_STATE},
			Value:                  false,
		})
		state.Become(BridgeReauthState{
			actor: state,
		})
	case *actor.Terminated:
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_MQTT) {
			state.logger.Error("bridge@default mqtt terminated")
			panic(errors.New("mqtt terminated"))
		}
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case *actor.Stopped, *actor.Started, *actor.ReceiveTimeout:
	default:
		state.logger.Debug("bridge@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// startDiscovery fetches the device list and resolves every device in the
// background. The outcome is piped back as a discoveryResult.
func (state *BridgeActor) startDiscovery(ctx actor.Context) {
	hub := state.hub
	timeout := state.config.Discovery.Timeout()
	NewBackgroundTask(ctx, func() (*discoveryResult, error) {
		c, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		devices, err := hub.GetDevices(c)
		if err != nil {
			return nil, err
		}
		for _, dev := range devices {
			if err := dev.ResolveDetails(c); err != nil {
				return nil, err
			}
		}
		return &discoveryResult{Devices: devices}, nil
	}).WithTimeout(timeout + time.Second).Recover(func(err error) discoveryResult {
		return discoveryResult{Error: err}
	}).PipeTo(ctx.Self())
}

func (state *BridgeActor) onDevicesDiscovered(ctx actor.Context, devices []*service.Device) {
	state.devices = devices
	for _, dev := range devices {
		for _, ch := range dev.Channels() {
			obs := &channelObserver{bridge: state, device: dev, channel: ch}
			dev.RegisterObserver(ch, obs)
			state.observers = append(state.observers, registeredObserver{device: dev, channel: ch, observer: obs})
		}
	}

	if state.config.MQTT.HADiscoveryEnable {
		haDiscoveryPID, err := state.startHADiscoveryActor(ctx)
		if err != nil {
			state.logger.Error("bridge: could not start discovery", zap.Error(err))
		}
		state.haDiscoveryActor = haDiscoveryPID
	}

	state.state = domain.BRIDGE_STATE_STREAMING
	state.publishEvent(domain.BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_BRIDGE_STATE},
		Value:                  true,
	})
	state.hub.StartStreams(context.Background())
}

func (state *BridgeActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Warn("bridge: discovery failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	sensors := state.discoverySensors()
	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(state.mqttActor, sensors, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, HADISCOVERY_ACTOR_ID)
}

func (state *BridgeActor) discoverySensors() []domain.GenericSensor {
	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors := domain.BridgeSensors(bridgeDevice)
	for _, dev := range state.devices {
		if !dev.Resolved() {
			continue
		}
		device := domain.EnergyLiveDevice(dev.ID(), dev.Type(), dev.Serial())
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.ChannelSensors(device, dev.ID(), dev.Channels())...)
	}
	return sensors
}

func (state *BridgeActor) snapshots() []domain.DeviceSnapshot {
	devices := state.devices
	if state.hub != nil && len(devices) == 0 {
		devices = state.hub.Devices()
	}
	snapshots := make([]domain.DeviceSnapshot, 0, len(devices))
	for _, dev := range devices {
		snapshots = append(snapshots, dev.Snapshot())
	}
	return snapshots
}

func (state *BridgeActor) publishEvent(event domain.SensorUpdateEvent) {
	if state.eventStream != nil {
		state.eventStream.Publish(event)
	}
}

func (state *BridgeActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *BridgeActor) stop() {
	state.logger.Debug("bridge: stop")
	for _, r := range state.observers {
		r.device.RemoveObserver(r.channel, r.observer)
	}
	state.observers = nil
	state.devices = nil
	if state.hub != nil {
		state.hub.Close()
	}
}

// channelObserver forwards the current value of one device channel to the
// event stream. It runs on the stream goroutine of the device.
type channelObserver struct {
	bridge  *BridgeActor
	device  *service.Device
	channel string
}

func (o *channelObserver) MeasurementUpdated() {
	value, ok := o.device.Value(o.channel)
	if !ok {
		return
	}
	o.bridge.publishEvent(domain.MeasurementUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SensorObjectId(o.device.ID(), o.channel)},
		DeviceId:               o.device.ID(),
		Channel:                o.channel,
		Value:                  value,
	})
	if o.channel != domain.CHANNEL_BATTERY_VOLTAGE {
		return
	}
	if mv, ok := domain.NumericValue(value); ok {
		o.bridge.publishEvent(domain.BatteryUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
				Id: domain.SensorObjectId(o.device.ID(), o.channel, domain.BATTERY_SENSOR_SUFFIX),
			},
			DeviceId:   o.device.ID(),
			Percentage: domain.BatteryPercentage(mv),
		})
	}
}

// actorReauthHandler turns a rejected key into a message for the bridge.
type actorReauthHandler struct {
	root *actor.RootContext
	pid  *actor.PID
}

func (h actorReauthHandler) RequestReauth() {
	h.root.Send(h.pid, domain.ReauthRequired{})
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 1
}

func (state *healthCheckResult) respond(ctx actor.Context, bridgeState string) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_BRIDGE,
		Healthy: state.mqttActorHealthy && bridgeState == domain.BRIDGE_STATE_STREAMING,
		State:   bridgeState,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
