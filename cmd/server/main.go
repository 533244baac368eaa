package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/apiquest-collab/internal/api"
	"github.com/Rrens/apiquest-collab/internal/api/handler"
	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/jobs"
	"github.com/Rrens/apiquest-collab/internal/logging"
	"github.com/Rrens/apiquest-collab/internal/realtime"
	"github.com/Rrens/apiquest-collab/internal/repository/memory"
	"github.com/Rrens/apiquest-collab/internal/repository/mongo"
	"github.com/Rrens/apiquest-collab/internal/repository/postgres"
	"github.com/Rrens/apiquest-collab/internal/repository/redis"
	"github.com/Rrens/apiquest-collab/internal/service"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// storage is the wired persistence of one driver
type storage struct {
	repos    service.Repositories
	backends map[string]handler.Pinger
	redis    *redis.Client
	closers  []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging, os.Getenv("ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting collaboration server")

	store, err := openStorage(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer store.close()

	hub := realtime.NewHub()
	registry := service.NewRegistry(store.repos, cfg.Collaboration, hub)
	membership := service.NewMembership(registry, hub)
	lifecycle := service.NewLifecycle(registry, membership, hub, cfg.Collaboration)

	deps := api.Dependencies{
		Lifecycle: lifecycle,
		Backends:  store.backends,
	}

	// Interfaces stay nil without Redis so the limiters are skipped
	var chatLimiter realtime.RateLimiter
	if store.redis != nil {
		deps.RateLimiter = redis.NewRateLimiter(store.redis, cfg.Security.RateLimit)
		chatLimiter = redis.NewRateLimiter(store.redis, cfg.Security.ChatRateLimit)
	}
	channel := realtime.NewChannel(hub, registry, membership, lifecycle, chatLimiter, cfg.Collaboration)
	deps.Channel = channel

	reaper := jobs.NewReaperJob(lifecycle, cfg.Collaboration.ReaperSchedule, cfg.Collaboration.IdleTimeout)
	if err := reaper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start idle reaper")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	reaper.Stop(ctx)

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Hijacked websocket connections are not tracked by Shutdown. Closing the
	// hub drops them, and each teardown records the departure.
	hub.Close()
	if err := channel.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("Connections still open at shutdown")
	}

	log.Info().Msg("Server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	s := &storage{backends: map[string]handler.Pinger{}}

	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage; sessions are lost on restart")
		mem := memory.NewStore()
		s.repos = service.Repositories{
			Sessions:     mem.Sessions(),
			Participants: mem.Participants(),
			Messages:     mem.Messages(),
			Buffers:      mem.Buffers(),
			Codes:        mem.Codes(),
		}
		return s, nil
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	s.redis = redisClient
	s.backends["redis"] = redisClient
	s.closers = append(s.closers, func() { redisClient.Close() })
	s.repos.Buffers = redis.NewBufferStore(redisClient, cfg.Collaboration.BufferTTL)
	s.repos.Codes = redis.NewCodeReserver(redisClient)

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			s.close()
			return nil, err
		}
		s.backends["postgres"] = db
		s.closers = append(s.closers, db.Close)
		s.repos.Sessions = postgres.NewSessionRepository(db.Pool)
		s.repos.Participants = postgres.NewParticipantRepository(db.Pool)
		s.repos.Messages = postgres.NewMessageRepository(db.Pool)

	case config.DriverMongo:
		db, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			s.close()
			return nil, err
		}
		s.backends["mongo"] = db
		s.closers = append(s.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
			defer cancel()
			db.Close(ctx)
		})
		s.repos.Sessions = db.Sessions()
		s.repos.Participants = db.Participants()
		s.repos.Messages = db.Messages()
	}

	return s, nil
}
