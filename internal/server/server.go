package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	port           uint
	httpLog        bool
	rootContext    *actor.RootContext
	bridgeActor    *actor.PID
	metricsHandler http.Handler
	wsHub          *WSHub
	logger         *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, bridgeActor *actor.PID, metricsHandler http.Handler,
	wsHub *WSHub, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		rootContext:    rootContext,
		bridgeActor:    bridgeActor,
		httpLog:        cfg.HttpLog,
		metricsHandler: metricsHandler,
		wsHub:          wsHub,
		logger:         logger.With(zap.String("component", "http")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
