package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_ACTOR_ID = "hadiscovery"

	haDiscoveryRetryInterval = 2 * time.Second
)

// HADiscoveryActor publishes the Home Assistant discovery messages of the
// bridge once the MQTT actor is connected, and again every time Home
// Assistant comes back online.
type HADiscoveryActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler
	mqttActor *actor.PID
	sensors   []domain.GenericSensor

	logger *zap.Logger
}

type haDiscoveryRetry struct {
}

func NewHADiscoveryActor(mqttActor *actor.PID, sensors []domain.GenericSensor, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		mqttActor: mqttActor,
		sensors:   sensors,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(HADISCOVERY_ACTOR_ID, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkMQTTHealthy(ctx)
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			state.scheduler.SendOnce(haDiscoveryRetryInterval, ctx.Self(), haDiscoveryRetry{})
			return
		}
		state.publish(ctx)
		state.behavior.Become(state.DoneReceive)
		state.stash.UnstashAll(ctx)
	case haDiscoveryRetry:
		state.checkMQTTHealthy(ctx)
	case domain.HomeAssistantOnline:
		// the first publish is still pending
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DoneReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.HomeAssistantOnline:
		state.logger.Debug("hadiscovery@done: Home Assistant online, republish")
		state.publish(ctx)
	default:
		state.logger.Debug("hadiscovery@done: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) checkMQTTHealthy(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
}

func (state *HADiscoveryActor) publish(ctx actor.Context) {
	state.logger.Info("hadiscovery: publishing discovery", zap.Int("sensors", len(state.sensors)))
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors: state.sensors,
	})
}
