package main

import (
	"cargolink/internal/app/registry"
	"cargolink/internal/app/server"
	"cargolink/internal/app/server/handlers"
	"cargolink/internal/app/worker"
	"cargolink/internal/config"
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/services"
	"cargolink/internal/platform/logger"
	"cargolink/internal/platform/telemetry"
	"cargolink/internal/plugins/memory"
	"cargolink/internal/plugins/postgres"
	"cargolink/internal/plugins/push"
	redisPlugin "cargolink/internal/plugins/redis"
	"cargolink/internal/plugins/tasks"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	log := logger.NewLogger(*cfg)
	slog.SetDefault(log)
	log.Info("starting application", "service", cfg.Service.Name, "env", cfg.Service.Env)

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}
	defer pdb.Close()
	log.Info("postgres connected")
	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pdb); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		log.Info("postgres schema applied")
	}

	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	repos := services.Repositories{
		Users:         postgres.NewUserRepository(pdb),
		Conversations: postgres.NewConversationRepo(pdb),
		Participants:  postgres.NewParticipantRepo(pdb),
		Messages:      postgres.NewMessageRepo(pdb),
		Statuses:      postgres.NewMessageStatusRepo(pdb),
		Calls:         postgres.NewCallRepo(pdb),
	}
	txManager := postgres.NewTxManager(pdb)
	outbox := redisPlugin.NewRedisMessageQueue(rdb)

	var presenceStore contracts.PresenceStore = memory.NewPresenceStore()
	if cfg.Realtime.PresenceBackend == "redis" {
		presenceStore = redisPlugin.NewRedisPresenceStore(rdb)
	}
	var cache contracts.Cache = memory.NewCache()
	if cfg.Realtime.CacheBackend == "redis" {
		cache = redisPlugin.NewRedisCache(rdb)
	}
	defer cache.Close()

	var pusher contracts.Pusher = push.LogPusher{}
	if cfg.Push.GatewayURL != "" {
		pusher = push.NewGatewayClient(*cfg.Push)
	}

	taskClient, taskServer, err := newTaskBackend(*cfg)
	if err != nil {
		return err
	}
	defer taskClient.Close()
	log.Info("status queue ready", "backend", cfg.Worker.StatusBackend)

	// Core Services
	hub := registry.NewRegistry()
	typing := services.NewTypingTracker(cfg.Realtime.TypingTTL)
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	profileSvc := services.NewProfileService(log, repos.Users, cache, cfg.Realtime.ProfileCacheTTL)
	presenceSvc := services.NewPresenceService(log, presenceStore, hub, profileSvc)
	roomSvc := services.NewRoomService(log, repos.Participants, hub, profileSvc, typing)
	msgSvc := services.NewMessageService(log, txManager, repos, presenceSvc, profileSvc, hub, taskClient, outbox, cfg.Worker.PushTopic, cfg.Asynq.MaxRetry)
	callSvc := services.NewCallService(log, txManager, repos, hub, msgSvc, profileSvc, cfg.Realtime.CallRingTimeout)
	sessSvc := services.NewSessionService(log, tokenSvc, hub, presenceSvc, roomSvc, msgSvc)
	managerSvc := services.NewManagerService(log, roomSvc, msgSvc, callSvc)

	// Workers
	worker.NewStatusWorker(log, msgSvc).Register(taskServer)
	pushWorker := worker.NewPushWorker(log, outbox, pusher, cfg.Worker.PushTopic, cfg.Worker.PushGroup)
	profileWorker := worker.NewProfileWorker(log, outbox, profileSvc, cfg.Worker.ProfileTopic, cfg.Worker.ProfileGroup)

	// Server
	wsHandler := handlers.NewWSHandler(sessSvc, managerSvc, *cfg.Realtime, server.CheckOrigin(cfg.HTTP.AllowedOrigins))
	apiHandler := handlers.NewAPIHandler(tokenSvc, msgSvc, callSvc, presenceSvc)
	srv := server.NewServer(log, *cfg, wsHandler, apiHandler)

	go func() {
		if err := taskServer.Run(ctx); err != nil {
			log.Error("status worker stopped", "err", err)
		}
	}()
	go func() {
		if err := pushWorker.Run(ctx); err != nil {
			log.Error("push worker stopped", "err", err)
		}
	}()
	go func() {
		if err := profileWorker.Run(ctx); err != nil {
			log.Error("profile worker stopped", "err", err)
		}
	}()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	select {
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout+5*time.Second)
	defer cancel()
	// Closing the registry drops every socket so hijacked connections
	// do not hold Shutdown open.
	hub.Close()
	callSvc.Close()
	typing.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	log.Info("application stopped")
	return nil
}

func newTaskBackend(cfg config.Config) (contracts.TaskClient, contracts.TaskServer, error) {
	if cfg.Worker.StatusBackend == "memory" {
		q := memory.NewTaskQueue(cfg.Worker.StatusWorkers, 1024, cfg.Asynq.MaxRetry)
		return q, q, nil
	}
	client, err := tasks.NewAsynqClient(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("asynq client: %w", err)
	}
	srv, err := tasks.NewAsynqServer(cfg.Redis.URL, *cfg.Asynq)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("asynq server: %w", err)
	}
	return client, srv, nil
}
