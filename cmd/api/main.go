package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/energylive2mqtt/internal/adapter/actor"
	"github.com/berfenger/energylive2mqtt/internal/config"
	"github.com/berfenger/energylive2mqtt/internal/core/actor"
	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/core/port"
	"github.com/berfenger/energylive2mqtt/internal/core/service"
	"github.com/berfenger/energylive2mqtt/internal/metrics"
	"github.com/berfenger/energylive2mqtt/internal/server"
	"github.com/berfenger/energylive2mqtt/internal/util/actorutil"
	"github.com/berfenger/energylive2mqtt/pkg/energylive"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// alias PORT => ENERGYLIVE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ENERGYLIVE_PORT", port)
	}

	// load and print config
	cfg, err := config.Load(viper.GetViper(), os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Using", "config", cfg.Redacted())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// energyLIVE client
	client, err := energylive.NewClient(cfg.APIKey,
		energylive.WithBaseURL(cfg.BaseURL),
		energylive.WithConnectTimeout(cfg.Stream.ConnectTimeout()),
		energylive.WithReadTimeout(cfg.Stream.ReadTimeout()))
	if err != nil {
		logger.Fatal("could not create energyLIVE client", zap.Error(err))
	}
	defer client.Close()
	api := service.NewEnergyLiveAPI(client)

	if err := validateAPIKey(api, logger); err != nil {
		logger.Fatal("invalid energyLIVE API key", zap.Error(err))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	collector := metrics.NewStreamCollector()
	eventStream := &eventstream.EventStream{}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewBridgeActor(cfg, api, collector, eventStream, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_BRIDGE)
	if err != nil {
		logger.Fatal("could not start bridge", zap.Error(err))
	}

	wsHub := server.NewWSHub(eventStream, logger)
	server := server.NewServer(*cfg, ctx, pid, collector.Handler(), wsHub, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	wsHub.Close()
	_ = ctx.StopFuture(pid).Wait()
	as.Shutdown()
}

// validateAPIKey fails only when the key is rejected. An unreachable API is
// retried later by the bridge.
func validateAPIKey(api port.EnergyLiveAPI, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := service.ValidateAPIKey(ctx, api)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidAPIKey):
		return err
	default:
		logger.Warn("could not validate the energyLIVE API key, continuing", zap.Error(err))
		return nil
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}
