package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/CUknot/chatroom_backend/config"
	"github.com/CUknot/chatroom_backend/database"
	"github.com/CUknot/chatroom_backend/docs"
	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/logger"
	"github.com/CUknot/chatroom_backend/metrics"
	"github.com/CUknot/chatroom_backend/middleware"
	"github.com/CUknot/chatroom_backend/presence"
	"github.com/CUknot/chatroom_backend/repository"
	"github.com/CUknot/chatroom_backend/router"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/CUknot/chatroom_backend/utils"
	"github.com/CUknot/chatroom_backend/websocket"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// @title           Chatroom API
// @version         1.0
// @description     RPC API of the anonymous chat and posts backend
// @host            localhost:3000
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	if cfg.DBAutoSeed {
		if err := database.Seed(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed database")
		}
	}

	bus := event.NewBus(cfg.SubscriberBuffer)
	registry := presence.NewRegistry(func(c presence.RoomCount) {
		metrics.SetOnline(c.RoomID, c.Count)
		bus.PublishCount(c)
	})
	metrics.RegisterActiveRooms(registry.Rooms)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		relay := event.NewRedisRelay(redisClient, bus, event.DefaultRelayChannel)
		go func() {
			if err := relay.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		log.Info().Str("origin", relay.Origin()).Msg("Redis relay enabled")
	}

	tokens := utils.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	chat := services.NewChatService(
		repository.NewMessageRepository(db),
		repository.NewRoomRepository(db),
		registry,
		bus,
		services.WithKeepAlive(cfg.StreamKeepAlive),
	)
	posts := services.NewPostService(repository.NewPostRepository(db))
	auth := services.NewAuthService(repository.NewUserRepository(db), tokens)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(hubCtx)

	limiter := middleware.NewRateLimiter(router.RateLimits(cfg))
	go limiter.Run()

	// Set up Swagger info
	docs.SwaggerInfo.Host = "localhost:" + cfg.Port

	r := router.SetupRouter(router.Deps{
		Config:      cfg,
		Chat:        chat,
		Posts:       posts,
		Auth:        auth,
		Bus:         bus,
		Hub:         hub,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server running")
		log.Info().Msgf("Swagger documentation available at http://localhost:%s/swagger/index.html", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// Streams never end on their own, so they are closed before the
			// server drains, and the database only after it.
			"http": func(ctx context.Context) error {
				log.Info().Msg("Graceful shutdown initiated...")
				stopHub()
				<-hub.Done()
				bus.Close()
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
				return database.Close(db)
			},
			"redis": func(ctx context.Context) error {
				stopRelay()
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
			"rate-limiter": func(ctx context.Context) error {
				limiter.Stop()
				return nil
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("code", exitCode).Msg("Server exited")
	os.Exit(exitCode)
}
