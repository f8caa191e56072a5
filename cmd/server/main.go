package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/config"
	"github.com/boomerdev01-max/linkaia-sub001/internal/crypto"
	"github.com/boomerdev01-max/linkaia-sub001/internal/database"
	"github.com/boomerdev01-max/linkaia-sub001/internal/logger"
	"github.com/boomerdev01-max/linkaia-sub001/internal/ratelimit"
	"github.com/boomerdev01-max/linkaia-sub001/internal/repository"
	"github.com/boomerdev01-max/linkaia-sub001/internal/routes"
	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	"github.com/boomerdev01-max/linkaia-sub001/internal/telemetry"
	chatws "github.com/boomerdev01-max/linkaia-sub001/internal/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.AppEnv,
		SampleRatio: cfg.TraceSampleArg,
	})
	if err != nil {
		zlog.Fatal("init tracer", zap.Error(err))
	}

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zlog.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(ctx, cfg.DBUrl, zlog); err != nil {
		zlog.Fatal("connect database", zap.Error(err))
	}
	defer database.CloseDB()

	codec, err := crypto.NewCodecFromSecret(cfg.MessageEncryptionKey)
	if err != nil {
		zlog.Fatal("build message codec", zap.Error(err))
	}

	// 3. Collaborators
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("parse REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(options)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zlog.Fatal("connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	broker := chatws.Broker(chatws.NewLocalBroker())
	if cfg.NATSURL != "" {
		nc, err := chatws.ConnectNATS(cfg.NATSURL, zlog)
		if err != nil {
			zlog.Fatal("connect nats", zap.Error(err))
		}
		defer nc.Drain()
		broker = chatws.NewNATSBroker(nc, zlog)
	}
	defer broker.Close()

	hub := chatws.NewHub(broker, zlog)
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	var notifier services.Notifier = services.NopNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier := services.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	var typingStore services.TypingStore = services.NewMemoryTypingStore()
	var sendLimiter ratelimit.Limiter
	if redisClient != nil {
		typingStore = services.NewRedisTypingStore(redisClient)
		sendLimiter = ratelimit.NewRedisLimiter(redisClient, cfg.SendRateLimit, cfg.SendRateWindow)
	}
	typing := services.NewTypingTracker(typingStore, hub, zlog, cfg.TypingTTL)

	chatService := services.NewChatService(
		repository.NewPgStore(database.DB),
		codec,
		hub,
		notifier,
		typing,
		zlog,
	)

	files, err := buildFileStorage(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("configure file storage", zap.Error(err))
	}
	var attachments *services.AttachmentService
	if files != nil {
		attachments = services.NewAttachmentService(chatService, files, cfg.MaxAttachmentSize)
	}

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxAttachmentSize) + 1<<20,
	})

	// Middleware
	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	routes.RegisterRoutes(app, cfg, routes.Dependencies{
		Chat:        chatService,
		Attachments: attachments,
		Hub:         hub,
		SendLimiter: sendLimiter,
		Log:         zlog,
	})

	// 5. Start Server
	listenErr := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port))
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			zlog.Error("server failed", zap.Error(err))
		}
		stop()
	case err := <-hubDone:
		if err != nil {
			zlog.Error("hub stopped", zap.Error(err))
		}
		stop()
	}

	zlog.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracer(flushCtx); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Warn("tracer shutdown", zap.Error(err))
	}
}

// buildFileStorage picks the attachment backend. A nil storage with a nil
// error means uploads are disabled.
func buildFileStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.FileStorage, error) {
	switch cfg.StorageDriver {
	case "supabase":
		if !cfg.SupabaseConfigured() {
			log.Warn("supabase storage selected but not configured; uploads disabled")
			return nil, nil
		}
		return services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey), nil
	default:
		if !cfg.MinioConfigured() {
			log.Warn("minio storage not configured; uploads disabled")
			return nil, nil
		}
		storage, err := services.NewMinioStorageService(services.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return storage, nil
	}
}
